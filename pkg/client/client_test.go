package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

func TestClientSignVerifyRetry(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/contracts/c-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_1",
				"contract":   map[string]any{"id": "c-1", "status": "DRAFT", "content_hash": "sha256:00"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/contracts/c-1/signatures":
			gotKey = r.Header.Get("Idempotency-Key")
			var in SignRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SignerDID == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"request_id": "req_2",
				"contract":   map[string]any{"id": "c-1", "status": "PENDING_SIGNATURES"},
				"warning":    map[string]any{"code": "LEDGER_RECORDING_FAILED", "pending": 1},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/contracts/c-1/verification":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"verification": map[string]any{"contract_id": "c-1", "valid": true, "pending_events": 1},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/contracts/ledger/retry":
			_ = json.NewEncoder(w).Encode(map[string]any{"recorded": 3})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "contract not found"}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	ctx := context.Background()

	got, err := c.Get(ctx, "c-1")
	if err != nil || got.Contract.ID != "c-1" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	signed, err := c.Sign(ctx, "c-1", SignRequest{SignerDID: "did:example:alice", Signature: "sig", VerificationMethod: "did:example:alice#k"}, "k1")
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if gotKey != "k1" || signed.Warning == nil || signed.Warning.Pending != 1 {
		t.Fatalf("Sign() = %+v key=%q", signed, gotKey)
	}

	v, err := c.Verify(ctx, "c-1")
	if err != nil || !v.Valid || v.PendingEvents != 1 {
		t.Fatalf("Verify() = %+v, %v", v, err)
	}

	rr, err := c.RetryLedger(ctx, "")
	if err != nil || rr.Recorded != 3 {
		t.Fatalf("RetryLedger() = %+v, %v", rr, err)
	}

	_, err = c.Get(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("Get(missing) err = %v", err)
	}
}
