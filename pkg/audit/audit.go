// Package audit carries structured events about signing and verification
// to an external sink. Storage beyond the sink is out of scope.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type Kind string

const (
	KindContractCreated    Kind = "contract.created"
	KindTermsUpdated       Kind = "contract.terms_updated"
	KindSignAttempt        Kind = "contract.sign_attempt"
	KindStatusChanged      Kind = "contract.status_changed"
	KindVerification       Kind = "contract.verification"
	KindVerificationFailed Kind = "contract.verification_mismatch"
	KindLedgerFailure      Kind = "ledger.recording_failed"
	KindLedgerRecovered    Kind = "ledger.recording_retried"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type Event struct {
	Kind       Kind              `json:"kind"`
	Outcome    Outcome           `json:"outcome"`
	ContractID string            `json:"contract_id,omitempty"`
	ActorDID   string            `json:"actor_did,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	At         time.Time         `json:"at"`
}

// Sink accepts audit events; Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// LogSink writes events through logrus at info (success) or warn (failure).
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(logger *logrus.Entry) *LogSink {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSink{log: logger.WithField("component", "audit")}
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	fields := logrus.Fields{
		"kind":    e.Kind,
		"outcome": e.Outcome,
	}
	if e.ContractID != "" {
		fields["contract_id"] = e.ContractID
	}
	if e.ActorDID != "" {
		fields["actor_did"] = e.ActorDID
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	for k, v := range e.Attrs {
		fields[k] = v
	}
	entry := s.log.WithFields(fields)
	if !e.At.IsZero() {
		entry = entry.WithTime(e.At)
	}
	if e.Outcome == OutcomeFailure {
		entry.Warn("audit")
		return nil
	}
	entry.Info("audit")
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Emit(ctx, e))
	}
	return err
}

// Recorder keeps events in memory; tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events match kind and outcome.
func (r *Recorder) Count(kind Kind, outcome Outcome) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind && e.Outcome == outcome {
			n++
		}
	}
	return n
}
