package audit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/accordsai/contractseal/pkg/webhooks"
)

func TestWebhookSinkDeliversSignedEvent(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		res, err := webhooks.Verify(r.Header, body, time.Now(), "hook-secret", webhooks.DefaultTolerance)
		if err != nil || !res.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if res.EventType != string(KindSignAttempt) || res.EventID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, "hook-secret", srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookSink: %v", err)
	}
	err = sink.Emit(context.Background(), Event{Kind: KindSignAttempt, Outcome: OutcomeSuccess, ContractID: "c-1", ActorDID: "did:example:alice"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ContractID != "c-1" || got[0].At.IsZero() {
		t.Fatalf("received %+v", got)
	}
}

func TestWebhookSinkReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, "wrong", srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookSink: %v", err)
	}
	if err := sink.Emit(context.Background(), Event{Kind: KindVerification}); err == nil {
		t.Fatalf("expected error on 401")
	}
	if _, err := NewWebhookSink(srv.URL, "", nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
