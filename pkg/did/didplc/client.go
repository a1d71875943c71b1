// Package didplc resolves did:plc identifiers against a PLC directory.
package didplc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/did"
)

const (
	Method = "plc"

	DefaultDirectory = "https://plc.directory"
)

var errRateLimited = errors.New("rate limited (429)")

type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	maxRetries  int
	userAgent   string
	log         *logrus.Entry
}

type ClientOption func(*Client)

func WithLogger(l *logrus.Entry) ClientOption {
	return func(c *Client) { c.log = l }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRateLimit sets requests per period.
func WithRateLimit(requestsPerPeriod int, period time.Duration) ClientOption {
	return func(c *Client) {
		if c.rateLimiter != nil {
			c.rateLimiter.Stop()
		}
		c.rateLimiter = NewRateLimiter(requestsPerPeriod, period)
	}
}

// NewClient defaults to 90 requests per minute and a 10 second timeout.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultDirectory
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: NewRateLimiter(90, time.Minute),
		maxRetries:  3,
		userAgent:   "contractseal/dev",
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	return c
}

func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Resolve fetches the current document for a did:plc, retrying rate-limited
// and transient failures with backoff.
func (c *Client) Resolve(ctx context.Context, id string) (*did.Document, error) {
	method, suffix, err := did.Parse(id)
	if err != nil {
		return nil, err
	}
	if method != Method || len(suffix) != 24 || strings.Trim(suffix, "abcdefghijklmnopqrstuvwxyz234567") != "" {
		return nil, fmt.Errorf("%w: not a did:plc: %s", did.ErrInvalidFormat, id)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		doc, retryAfter, err := c.fetch(ctx, id)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, did.ErrNotFound) || errors.Is(err, did.ErrDeactivated) {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		wait := backoff
		if retryAfter > 0 {
			wait = retryAfter
		}
		c.log.WithFields(logrus.Fields{"did": id, "attempt": attempt, "wait": wait}).WithError(err).Warn("plc lookup failed, retrying")
		select {
		case <-time.After(wait):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) fetch(ctx context.Context, id string) (*did.Document, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, 0, did.ErrNotFound
	case http.StatusGone:
		return nil, 0, did.ErrDeactivated
	case http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp), errRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("error reading response: %w", err)
	}
	doc, err := did.DecodeJSON(b)
	if err != nil {
		if errors.Is(err, did.ErrDeactivated) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("malformed plc document: %v", err)
	}
	return doc, 0, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 5 * time.Second
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 5 * time.Second
}
