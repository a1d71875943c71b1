// Package rfc3161 obtains RFC 3161 timestamp tokens for contract content
// hashes from a time-stamping authority.
package rfc3161

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

var (
	ErrRejected      = errors.New("rfc3161: request rejected by authority")
	ErrEmptyResponse = errors.New("rfc3161: empty response")

	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

const maxResponseBytes = 64 << 10

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// Token is a DER-encoded TimeStampToken (a CMS ContentInfo).
type Token struct {
	DER         []byte
	ContentType string
	Authority   string
	RequestedAt time.Time
}

type Client struct {
	HTTPClient *http.Client
	URL        string
	PolicyOID  string
}

func NewClient(url, policyOID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &Client{HTTPClient: httpClient, URL: url, PolicyOID: policyOID}
}

// Timestamp asks the authority to timestamp a "sha256:<hex>" content hash.
func (c *Client) Timestamp(ctx context.Context, contentHash string) (Token, error) {
	reqDER, err := BuildTimeStampRequestFromHashHex(contentHash, c.PolicyOID)
	if err != nil {
		return Token{}, err
	}
	requestedAt := time.Now().UTC()
	body, contentType, err := c.post(ctx, reqDER)
	if err != nil {
		return Token{}, err
	}
	der, err := ParseResponse(body)
	if err != nil {
		return Token{}, err
	}
	return Token{DER: der, ContentType: contentType, Authority: c.URL, RequestedAt: requestedAt}, nil
}

func BuildTimeStampRequestFromHashHex(targetHash string, policyOID string) ([]byte, error) {
	hashHex := strings.TrimPrefix(strings.TrimSpace(targetHash), "sha256:")
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid target hash: %w", err)
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("invalid target hash length: %d", len(digest))
	}
	return BuildTimeStampRequest(digest, policyOID)
}

func BuildTimeStampRequest(digest []byte, policyOID string) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes")
	}
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull},
			},
			HashedMessage: digest,
		},
		Nonce:   nonce,
		CertReq: true,
	}
	if p := strings.TrimSpace(policyOID); p != "" {
		oid, err := parseOID(p)
		if err != nil {
			return nil, err
		}
		req.ReqPolicy = oid
	}
	return asn1.Marshal(req)
}

// ParseResponse checks the PKIStatus of a TimeStampResp and returns the
// embedded token. Status 0 (granted) and 1 (granted with mods) are accepted.
func ParseResponse(der []byte) ([]byte, error) {
	if len(der) == 0 {
		return nil, ErrEmptyResponse
	}
	var resp timeStampResp
	rest, err := asn1.Unmarshal(der, &resp)
	if err != nil {
		return nil, fmt.Errorf("rfc3161: decode response: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("rfc3161: trailing data after response")
	}
	if resp.Status.Status != 0 && resp.Status.Status != 1 {
		return nil, fmt.Errorf("%w: status %d %s", ErrRejected, resp.Status.Status, strings.Join(resp.Status.StatusString, "; "))
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.TimeStampToken.FullBytes, nil
}

func (c *Client) post(ctx context.Context, reqDER []byte) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header.Get("Content-Type"), fmt.Errorf("tsa_http_status_%d", resp.StatusCode)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid policy_oid")
	}
	out := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid policy_oid")
		}
		n := 0
		for _, ch := range p {
			if ch < '0' || ch > '9' {
				return nil, fmt.Errorf("invalid policy_oid")
			}
			n = (n * 10) + int(ch-'0')
		}
		out = append(out, n)
	}
	return out, nil
}
