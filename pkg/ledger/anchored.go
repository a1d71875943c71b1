package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/anchor/rfc3161"
)

type Timestamper interface {
	Timestamp(ctx context.Context, contentHash string) (rfc3161.Token, error)
}

// Anchored timestamps every recorded content hash with an RFC 3161
// authority before handing the event to the wrapped client. A failed
// timestamp is logged and the event recorded unanchored unless Strict.
type Anchored struct {
	Client
	tsa    Timestamper
	log    *logrus.Entry
	Strict bool
}

func NewAnchored(inner Client, tsa Timestamper, logger *logrus.Entry) *Anchored {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Anchored{Client: inner, tsa: tsa, log: logger.WithField("component", "ledger-anchor")}
}

func (a *Anchored) RecordEvent(ctx context.Context, e Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	tok, err := a.tsa.Timestamp(ctx, e.ContentHash)
	switch {
	case err == nil:
		e.Anchor = &Anchor{
			Authority:   tok.Authority,
			Token:       tok.DER,
			ContentType: tok.ContentType,
			AnchoredAt:  tok.RequestedAt,
		}
	case a.Strict:
		return "", fmt.Errorf("ledger: anchor %s: %w", e.ContentHash, err)
	default:
		a.log.WithFields(logrus.Fields{
			"contract_id": e.ContractID,
			"event_type":  e.EventType,
		}).WithError(err).Warn("timestamp authority unavailable, recording unanchored")
	}
	return a.Client.RecordEvent(ctx, e)
}

// Events passes through when the wrapped client keeps history.
func (a *Anchored) Events(ctx context.Context, contractID string) ([]Event, error) {
	h, ok := a.Client.(History)
	if !ok {
		return nil, fmt.Errorf("%w by %T", ErrHistoryUnsupported, a.Client)
	}
	return h.Events(ctx, contractID)
}
