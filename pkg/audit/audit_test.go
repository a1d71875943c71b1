package audit

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestJSONLSinkAppendAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	s, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, e := range []Event{
		{Kind: KindSignAttempt, Outcome: OutcomeSuccess, ContractID: "c1", ActorDID: "did:example:alice", At: now},
		{Kind: KindSignAttempt, Outcome: OutcomeFailure, ContractID: "c1", ActorDID: "did:example:eve", Reason: "unauthorized", At: now},
		{Kind: KindVerification, Outcome: OutcomeSuccess, ContractID: "c2", At: now},
	} {
		if err := s.Emit(ctx, e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	got, err := s.ByContract(ctx, "c1")
	if err != nil {
		t.Fatalf("ByContract: %v", err)
	}
	if len(got) != 2 || got[1].Reason != "unauthorized" {
		t.Fatalf("unexpected events %+v", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Emit(ctx, Event{Kind: KindSignAttempt}); err == nil {
		t.Fatalf("expected emit after close to fail")
	}
}

func TestNewJSONLSinkRequiresPath(t *testing.T) {
	if _, err := NewJSONLSink(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	s := NewLogSink(logrus.NewEntry(logger))

	_ = s.Emit(context.Background(), Event{Kind: KindSignAttempt, Outcome: OutcomeFailure, ContractID: "c1", Attrs: map[string]string{"scheme": "ed25519"}})
	out := buf.String()
	if !strings.Contains(out, `"level":"warning"`) || !strings.Contains(out, `"contract_id":"c1"`) || !strings.Contains(out, `"scheme":"ed25519"`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("sink down") }

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	m := Multi{rec, failingSink{}, failingSink{}, Nop{}}
	err := m.Emit(context.Background(), Event{Kind: KindContractCreated, Outcome: OutcomeSuccess})
	if err == nil || strings.Count(err.Error(), "sink down") != 2 {
		t.Fatalf("expected both failures reported, got %v", err)
	}
	if rec.Count(KindContractCreated, OutcomeSuccess) != 1 {
		t.Fatalf("expected recorder to still receive the event")
	}
}
