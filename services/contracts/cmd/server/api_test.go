package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/pkg/signature"
	"github.com/accordsai/contractseal/services/contracts/internal/idempotency"
	"github.com/accordsai/contractseal/services/contracts/internal/signing"
	"github.com/accordsai/contractseal/services/contracts/internal/store"
)

type testParty struct {
	did, vm string
	priv    ed25519.PrivateKey
}

func newTestParty(t *testing.T, name string) testParty {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	id := "did:example:" + name
	return testParty{did: id, vm: id + "#keys-1", priv: priv}
}

func (p testParty) doc() *did.Document {
	return &did.Document{
		ID: p.did,
		VerificationMethods: []did.VerificationMethod{{
			ID:              p.vm,
			Type:            did.TypeEd25519VerificationKey2018,
			Controller:      p.did,
			PublicKeyBase58: base58.Encode(p.priv.Public().(ed25519.PublicKey)),
		}},
	}
}

func (p testParty) signBody(c domain.Contract) map[string]any {
	sig := signature.SignEd25519(p.priv, signing.SigningMessage(&c))
	return map[string]any{
		"signer_did":          p.did,
		"signature":           signature.EncodeSignature(sig),
		"verification_method": p.vm,
	}
}

// switchLedger fails RecordEvent while down is set.
type switchLedger struct {
	*ledger.LocalLedger
	down atomic.Bool
}

func (l *switchLedger) RecordEvent(ctx context.Context, e ledger.Event) (string, error) {
	if l.down.Load() {
		return "", errors.New("ledger offline")
	}
	return l.LocalLedger.RecordEvent(ctx, e)
}

type testServer struct {
	srv        *httptest.Server
	ledger     *switchLedger
	alice, bob testParty
	mallory    testParty
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		ledger:  &switchLedger{LocalLedger: ledger.NewLocalLedger()},
		alice:   newTestParty(t, "alice"),
		bob:     newTestParty(t, "bob"),
		mallory: newTestParty(t, "mallory"),
	}
	resolver := did.NewMultiResolver(did.NewCache(time.Minute), nil)
	resolver.Register("example", did.NewStaticResolver(ts.alice.doc(), ts.bob.doc(), ts.mallory.doc()))

	a := &api{
		svc: signing.New(signing.Options{
			Store:         store.NewMemory(),
			Resolver:      resolver,
			Ledger:        ts.ledger,
			LedgerTimeout: time.Second,
		}),
		resolver: resolver,
		idem:     idempotency.NewMemory(time.Hour),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	ts.srv = httptest.NewServer(a.routes())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]json.RawMessage, http.Header) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]json.RawMessage{}
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out, resp.Header
}

func decodeContract(t *testing.T, out map[string]json.RawMessage) domain.Contract {
	t.Helper()
	var c domain.Contract
	if err := json.Unmarshal(out["contract"], &c); err != nil {
		t.Fatalf("decode contract: %v (%s)", err, out["contract"])
	}
	return c
}

func errorCode(t *testing.T, out map[string]json.RawMessage) string {
	t.Helper()
	var e struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(out["error"], &e); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return e.Code
}

func (ts *testServer) create(t *testing.T) domain.Contract {
	t.Helper()
	status, out, _ := ts.do(t, "POST", "/contracts", map[string]any{
		"provider_did": ts.alice.did,
		"consumer_did": ts.bob.did,
		"title":        "Hosting agreement",
		"terms":        map[string]any{"monthly_fee": "250.00", "sla": "99.9"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d %v", status, out)
	}
	return decodeContract(t, out)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if status, _, _ := ts.do(t, "GET", "/health", nil); status != 200 {
		t.Fatalf("health status = %d", status)
	}
}

func TestSignFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)
	if c.Status != domain.StatusDraft {
		t.Fatalf("status = %s", c.Status)
	}

	status, out, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.alice.signBody(c))
	if status != 200 {
		t.Fatalf("alice sign status = %d %v", status, out)
	}
	c = decodeContract(t, out)
	if c.Status != domain.StatusPendingSignatures {
		t.Fatalf("after alice status = %s", c.Status)
	}

	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.bob.signBody(c))
	if status != 200 {
		t.Fatalf("bob sign status = %d %v", status, out)
	}
	if c = decodeContract(t, out); c.Status != domain.StatusActive || len(c.Signatures) != 2 {
		t.Fatalf("after bob status=%s signatures=%d", c.Status, len(c.Signatures))
	}

	status, out, _ = ts.do(t, "GET", "/contracts/"+c.ID+"/verification", nil)
	if status != 200 {
		t.Fatalf("verification status = %d", status)
	}
	var rep signing.VerificationReport
	if err := json.Unmarshal(out["verification"], &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !rep.Valid || !rep.BlockchainVerified || rep.SignatureCount != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}

	status, out, _ = ts.do(t, "GET", "/contracts/"+c.ID+"/events", nil)
	if status != 200 {
		t.Fatalf("events status = %d", status)
	}
	var evs []ledger.Event
	if err := json.Unmarshal(out["events"], &evs); err != nil || len(evs) != 3 {
		t.Fatalf("events = %d err=%v", len(evs), err)
	}
}

func TestSignErrorsMapToStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)

	status, out, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.mallory.signBody(c))
	if status != 400 || errorCode(t, out) != "UNAUTHORIZED_SIGNER" {
		t.Fatalf("third party: %d %s", status, out["error"])
	}

	forged := ts.alice.signBody(c)
	forged["signer_did"] = ts.bob.did
	forged["verification_method"] = ts.bob.vm
	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", forged)
	if status != 400 || errorCode(t, out) != "INVALID_SIGNATURE" {
		t.Fatalf("forged: %d %s", status, out["error"])
	}

	body := ts.alice.signBody(c)
	body["verification_method"] = ts.alice.did + "#nope"
	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", body)
	if status != 400 || errorCode(t, out) != "VERIFICATION_METHOD_NOT_FOUND" {
		t.Fatalf("unknown method: %d %s", status, out["error"])
	}

	if status, _, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.alice.signBody(c)); status != 200 {
		t.Fatalf("alice sign status = %d", status)
	}
	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.alice.signBody(c))
	if status != 409 || errorCode(t, out) != "ALREADY_SIGNED" {
		t.Fatalf("double sign: %d %s", status, out["error"])
	}

	status, out, _ = ts.do(t, "POST", "/contracts/missing/signatures", ts.alice.signBody(c))
	if status != 404 || errorCode(t, out) != "NOT_FOUND" {
		t.Fatalf("missing contract: %d %s", status, out["error"])
	}

	status, _, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", map[string]any{"signer_did": ts.alice.did})
	if status != 400 {
		t.Fatalf("incomplete body status = %d", status)
	}
}

func TestSignIdempotencyKeyReplays(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)
	body := ts.alice.signBody(c)

	status, first, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", body, "Idempotency-Key", "k1")
	if status != 200 {
		t.Fatalf("first status = %d", status)
	}
	status, second, hdr := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", body, "Idempotency-Key", "k1")
	if status != 200 || hdr.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay status = %d replayed=%q", status, hdr.Get("Idempotent-Replayed"))
	}
	if !bytes.Equal(first["contract"], second["contract"]) {
		t.Fatalf("replayed contract differs")
	}

	other := ts.alice.signBody(c)
	other["verification_method"] = ts.alice.did + "#keys-2"
	status, out, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", other, "Idempotency-Key", "k1")
	if status != 409 || errorCode(t, out) != "IDEMPOTENCY_KEY_REUSED" {
		t.Fatalf("reused key: %d %s", status, out["error"])
	}
}

func TestLedgerOutageAnswersAcceptedWithWarning(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)

	ts.ledger.down.Store(true)
	status, out, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.alice.signBody(c))
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", status)
	}
	var warning struct {
		Code    string `json:"code"`
		Pending int    `json:"pending"`
	}
	if err := json.Unmarshal(out["warning"], &warning); err != nil || warning.Code != "LEDGER_RECORDING_FAILED" || warning.Pending != 1 {
		t.Fatalf("warning = %+v err=%v", warning, err)
	}
	if got := decodeContract(t, out); len(got.Signatures) != 1 {
		t.Fatalf("signature not committed")
	}

	_, out, _ = ts.do(t, "GET", "/contracts/"+c.ID+"/verification", nil)
	var rep signing.VerificationReport
	_ = json.Unmarshal(out["verification"], &rep)
	if rep.BlockchainVerified || rep.PendingEvents != 1 {
		t.Fatalf("report during outage %+v", rep)
	}

	if status, _, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/ledger/retry", nil); status != http.StatusBadGateway {
		t.Fatalf("retry while down status = %d", status)
	}
	ts.ledger.down.Store(false)
	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/ledger/retry", nil)
	if status != 200 || string(out["recorded"]) != "1" || string(out["pending"]) != "0" {
		t.Fatalf("retry: %d recorded=%s pending=%s", status, out["recorded"], out["pending"])
	}

	_, out, _ = ts.do(t, "GET", "/contracts/"+c.ID+"/verification", nil)
	rep = signing.VerificationReport{}
	_ = json.Unmarshal(out["verification"], &rep)
	if !rep.Valid || !rep.BlockchainVerified {
		t.Fatalf("report after retry %+v", rep)
	}
}

func TestVoidAndTransitions(t *testing.T) {
	ts := newTestServer(t)
	c := ts.create(t)

	status, out, _ := ts.do(t, "POST", "/contracts/"+c.ID+"/void", map[string]any{"voider_did": ts.alice.did})
	if status != 400 || errorCode(t, out) != "BAD_REQUEST" {
		t.Fatalf("void without reason: %d %s", status, out["error"])
	}
	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/suspend", map[string]any{"actor_did": ts.alice.did})
	if status != 409 || errorCode(t, out) != "INVALID_TRANSITION" {
		t.Fatalf("suspend draft: %d %s", status, out["error"])
	}

	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/void", map[string]any{"voider_did": ts.alice.did, "reason": "superseded"})
	if status != 200 {
		t.Fatalf("void status = %d %s", status, out["error"])
	}
	if got := decodeContract(t, out); got.Status != domain.StatusVoided || got.VoidReason != "superseded" {
		t.Fatalf("voided contract %+v", got)
	}

	status, out, _ = ts.do(t, "POST", "/contracts/"+c.ID+"/signatures", ts.alice.signBody(c))
	if status != 400 || errorCode(t, out) != "INVALID_CONTRACT_STATUS" {
		t.Fatalf("sign voided: %d %s", status, out["error"])
	}
}

func TestListContractsFilters(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)
	ts.create(t)

	status, out, _ := ts.do(t, "GET", "/contracts?did="+ts.bob.did+"&status=draft&limit=1", nil)
	if status != 200 {
		t.Fatalf("list status = %d", status)
	}
	var cs []domain.Contract
	if err := json.Unmarshal(out["contracts"], &cs); err != nil || len(cs) != 1 {
		t.Fatalf("contracts = %d err=%v", len(cs), err)
	}

	if status, _, _ = ts.do(t, "GET", "/contracts?status=bogus", nil); status != 400 {
		t.Fatalf("bogus status filter = %d", status)
	}
	status, out, _ = ts.do(t, "GET", "/contracts?did="+ts.mallory.did, nil)
	if status != 200 || string(out["contracts"]) != "[]" {
		t.Fatalf("mallory list: %d %s", status, out["contracts"])
	}
}

func TestResolveDIDEndpoint(t *testing.T) {
	ts := newTestServer(t)
	status, out, _ := ts.do(t, "GET", "/dids/"+ts.alice.did, nil)
	if status != 200 {
		t.Fatalf("resolve status = %d", status)
	}
	var doc did.Document
	if err := json.Unmarshal(out["document"], &doc); err != nil || doc.ID != ts.alice.did {
		t.Fatalf("document = %+v err=%v", doc, err)
	}

	if status, _, _ = ts.do(t, "GET", "/dids/not-a-did", nil); status != 400 {
		t.Fatalf("malformed did status = %d", status)
	}
	if status, _, _ = ts.do(t, "GET", "/dids/did:nosuch:x", nil); status != 400 {
		t.Fatalf("unsupported method status = %d", status)
	}
	if status, _, _ = ts.do(t, "GET", "/dids/did:example:nobody", nil); status != 404 {
		t.Fatalf("unknown did status = %d", status)
	}
}
