// Package ledger records contract lifecycle events in an append-only,
// hash-chained log and answers which content hash was recorded last.
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventSigned  EventType = "SIGNED"
	EventUpdated EventType = "UPDATED"
	EventVoided  EventType = "VOIDED"
)

var (
	ErrNoEvents     = errors.New("ledger: no events for contract")
	ErrInvalidEvent = errors.New("ledger: invalid event")
	// ErrHistoryUnsupported is returned by wrappers whose inner client
	// does not implement History.
	ErrHistoryUnsupported = errors.New("ledger: history not supported")
)

// Event is one ledger entry. TxRef chains to PrevRef, the TxRef of the
// previous event for the same contract ("" for the first).
type Event struct {
	Seq         int64           `json:"seq"`
	EventType   EventType       `json:"event_type"`
	ContractID  string          `json:"contract_id"`
	ContentHash string          `json:"content_hash"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	TxRef       string          `json:"tx_ref"`
	PrevRef     string          `json:"prev_ref,omitempty"`
	Anchor      *Anchor         `json:"anchor,omitempty"`
}

// Anchor is an external timestamp proof over ContentHash.
type Anchor struct {
	Authority   string    `json:"authority"`
	Token       []byte    `json:"token"`
	ContentType string    `json:"content_type,omitempty"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// Client is what the signing service needs from a ledger.
type Client interface {
	RecordEvent(ctx context.Context, e Event) (txRef string, err error)
	// LastHash returns the content hash of the latest event for the
	// contract, or ErrNoEvents.
	LastHash(ctx context.Context, contractID string) (string, error)
}

// History is implemented by ledgers that can replay a contract's events.
type History interface {
	Events(ctx context.Context, contractID string) ([]Event, error)
}

func (e Event) Validate() error {
	switch {
	case e.ContractID == "":
		return fmt.Errorf("%w: missing contract_id", ErrInvalidEvent)
	case e.ContentHash == "":
		return fmt.Errorf("%w: missing content_hash", ErrInvalidEvent)
	}
	switch e.EventType {
	case EventCreated, EventSigned, EventUpdated, EventVoided:
		return nil
	}
	return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
}

// seal stamps e and links it after prevRef. Timestamps are kept at
// microsecond precision so they survive a round trip through Postgres.
func seal(e Event, prevRef string, now time.Time) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if len(e.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, e.Data); err == nil {
			e.Data = buf.Bytes()
		}
	}
	e.PrevRef = prevRef
	e.TxRef = ChainRef(prevRef, e)
	return e
}

// ChainRef derives the TxRef of e from its predecessor. The anchor and the
// sequence number are not covered.
func ChainRef(prevRef string, e Event) string {
	h := sha256.New()
	h.Write([]byte(prevRef))
	h.Write([]byte{0})
	h.Write([]byte(e.ContractID))
	h.Write([]byte{0})
	h.Write([]byte(e.EventType))
	h.Write([]byte{0})
	h.Write([]byte(e.ContentHash))
	h.Write([]byte{0})
	h.Write(e.Data)
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks that events link by PrevRef and that each TxRef
// matches its content. It returns the index of the first broken link, or -1.
func VerifyChain(events []Event) int {
	prev := ""
	for i, e := range events {
		if e.PrevRef != prev || ChainRef(prev, e) != e.TxRef {
			return i
		}
		prev = e.TxRef
	}
	return -1
}
