// Package didweb resolves did:web identifiers over HTTPS.
package didweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/did"
)

const (
	Method = "web"

	maxDocumentBytes = 1 << 20
)

type Resolver struct {
	httpClient *http.Client
	scheme     string
	userAgent  string
	log        *logrus.Entry
}

type Option func(*Resolver)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.httpClient.Timeout = d }
}

// WithInsecureHTTP fetches documents over plain http. Only for local testing.
func WithInsecureHTTP() Option {
	return func(r *Resolver) { r.scheme = "http" }
}

func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

func WithLogger(l *logrus.Entry) Option {
	return func(r *Resolver) { r.log = l }
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		scheme:     "https",
		userAgent:  "contractseal/dev",
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DocumentURL maps did:web:<host>[:<path>...] to the location of did.json.
// A percent-encoded port in the host segment is decoded.
func (r *Resolver) DocumentURL(id string) (string, error) {
	method, rest, err := did.Parse(id)
	if err != nil {
		return "", err
	}
	if method != Method {
		return "", fmt.Errorf("%w: not a did:web: %s", did.ErrInvalidFormat, id)
	}
	segments := strings.Split(rest, ":")
	host, err := url.PathUnescape(segments[0])
	if err != nil || host == "" || strings.ContainsAny(host, "/?#@") {
		return "", fmt.Errorf("%w: did:web host %q", did.ErrInvalidFormat, segments[0])
	}
	path := "/.well-known/did.json"
	if len(segments) > 1 {
		parts := make([]string, 0, len(segments)-1)
		for _, s := range segments[1:] {
			p, err := url.PathUnescape(s)
			if err != nil || p == "" || strings.Contains(p, "/") {
				return "", fmt.Errorf("%w: did:web path segment %q", did.ErrInvalidFormat, s)
			}
			parts = append(parts, url.PathEscape(p))
		}
		path = "/" + strings.Join(parts, "/") + "/did.json"
	}
	return r.scheme + "://" + host + path, nil
}

func (r *Resolver) Resolve(ctx context.Context, id string) (*did.Document, error) {
	u, err := r.DocumentURL(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/did+json, application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, did.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if len(b) > maxDocumentBytes {
		return nil, fmt.Errorf("did document at %s exceeds %d bytes", u, maxDocumentBytes)
	}
	doc, err := did.DecodeJSON(b)
	if errors.Is(err, did.ErrDeactivated) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("malformed document at %s: %v", u, err)
	}
	r.log.WithFields(logrus.Fields{"did": id, "url": u}).Debug("did:web document fetched")
	return doc, nil
}
