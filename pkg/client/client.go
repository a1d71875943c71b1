// Package client talks to the contracts service over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// APIError is a non-2xx answer decoded from the service error body.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Warning is set when the service committed a change but could not record
// it on the ledger yet.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Pending int    `json:"pending"`
}

type ContractResponse struct {
	RequestID string           `json:"request_id"`
	Contract  *domain.Contract `json:"contract"`
	Warning   *Warning         `json:"warning,omitempty"`
}

type CreateRequest struct {
	ProviderDID string          `json:"provider_did"`
	ConsumerDID string          `json:"consumer_did"`
	Title       string          `json:"title,omitempty"`
	Terms       json.RawMessage `json:"terms"`
}

type SignRequest struct {
	SignerDID          string `json:"signer_did"`
	Signature          string `json:"signature"`
	VerificationMethod string `json:"verification_method"`
}

type Verification struct {
	ContractID         string `json:"contract_id"`
	Valid              bool   `json:"valid"`
	BlockchainVerified bool   `json:"blockchain_verified"`
	SignatureCount     int    `json:"signature_count"`
	Status             string `json:"status"`
	ComputedHash       string `json:"computed_hash"`
	StoredHash         string `json:"stored_hash"`
	LedgerHash         string `json:"ledger_hash,omitempty"`
	PendingEvents      int    `json:"pending_events,omitempty"`
	LedgerError        string `json:"ledger_error,omitempty"`
}

type RetryResponse struct {
	Recorded int `json:"recorded"`
	Pending  int `json:"pending"`
}

func (c *Client) Get(ctx context.Context, contractID string) (*ContractResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contractURL(contractID, ""), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[ContractResponse](c, req)
}

func (c *Client) Create(ctx context.Context, in CreateRequest, idempotencyKey string) (*ContractResponse, error) {
	req, err := c.post(ctx, c.BaseURL+"/contracts", in, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return doJSON[ContractResponse](c, req)
}

func (c *Client) Sign(ctx context.Context, contractID string, in SignRequest, idempotencyKey string) (*ContractResponse, error) {
	req, err := c.post(ctx, c.contractURL(contractID, "/signatures"), in, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return doJSON[ContractResponse](c, req)
}

func (c *Client) Verify(ctx context.Context, contractID string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contractURL(contractID, "/verification"), nil)
	if err != nil {
		return nil, err
	}
	env, err := doJSON[struct {
		Verification *Verification `json:"verification"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	if env.Verification == nil {
		return nil, fmt.Errorf("response has no verification")
	}
	return env.Verification, nil
}

func (c *Client) Events(ctx context.Context, contractID string) ([]ledger.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contractURL(contractID, "/events"), nil)
	if err != nil {
		return nil, err
	}
	env, err := doJSON[struct {
		Events []ledger.Event `json:"events"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	return env.Events, nil
}

// RetryLedger flushes parked ledger events for one contract, or for all
// when contractID is empty.
func (c *Client) RetryLedger(ctx context.Context, contractID string) (*RetryResponse, error) {
	u := c.BaseURL + "/contracts/ledger/retry"
	if contractID != "" {
		u = c.contractURL(contractID, "/ledger/retry")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[RetryResponse](c, req)
}

func (c *Client) contractURL(id, suffix string) string {
	return c.BaseURL + "/contracts/" + url.PathEscape(id) + suffix
}

func (c *Client) post(ctx context.Context, u string, in any, idempotencyKey string) (*http.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return req, nil
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Error *APIError `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(b, &body) == nil && body.Error != nil {
			apiErr.Code, apiErr.Message = body.Error.Code, body.Error.Message
		}
		return nil, apiErr
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
