package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/did/didkey"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/signature"
)

func TestSubmitSignsServiceContract(t *testing.T) {
	dir := t.TempDir()
	alice := keygen(t, dir, "alice", "secp256k1")
	c := &domain.Contract{
		ID:          "c-9",
		ProviderDID: alice.DID,
		ConsumerDID: "did:example:bob",
		Status:      domain.StatusDraft,
		Terms:       json.RawMessage(`{"seats":10}`),
	}
	h, err := canonhash.ContractHash(c)
	if err != nil {
		t.Fatalf("ContractHash: %v", err)
	}
	c.ContentHash = h

	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/contracts/c-9":
			_ = json.NewEncoder(w).Encode(map[string]any{"contract": c})
		case r.Method == http.MethodPost && r.URL.Path == "/contracts/c-9/signatures":
			var in struct {
				SignerDID          string `json:"signer_did"`
				Signature          string `json:"signature"`
				VerificationMethod string `json:"verification_method"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			doc, err := didkey.Document(in.SignerDID)
			if err != nil {
				w.WriteHeader(400)
				return
			}
			m, _ := doc.FindMethod(in.VerificationMethod)
			raw, _ := signature.DecodeSignature(in.Signature)
			ok, _ := signature.Verify(signature.SigningMessage(c.ID, c.ContentHash), raw, m)
			if !ok || r.Header.Get("Idempotency-Key") == "" {
				w.WriteHeader(400)
				return
			}
			verified = true
			signed := *c
			signed.Status = domain.StatusPendingSignatures
			_ = json.NewEncoder(w).Encode(map[string]any{"contract": signed})
		case r.Method == http.MethodGet && r.URL.Path == "/contracts/c-9/verification":
			_ = json.NewEncoder(w).Encode(map[string]any{"verification": map[string]any{
				"contract_id": "c-9", "valid": true, "blockchain_verified": false, "pending_events": 2,
			}})
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	out, err := run(t, "submit", "--server", srv.URL, "--key", filepath.Join(dir, "alice.key.json"), "--contract-id", "c-9")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !verified || !strings.Contains(out, string(domain.StatusPendingSignatures)) {
		t.Fatalf("submit output %s (verified=%v)", out, verified)
	}

	out, err = run(t, "status", "--server", srv.URL, "--contract-id", "c-9")
	if !errors.Is(err, errVerifyFailed) {
		t.Fatalf("status err = %v", err)
	}
	if s := parseSummary(t, out); s.Status != statusFail || !strings.Contains(s.Reason, "pending=2") {
		t.Fatalf("status summary %+v", s)
	}
}
