package signing

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

// pendingEvent builds the ledger event for c's current state. It is parked
// by the store in the same write as c, so commit order is event order.
func (s *Service) pendingEvent(c *domain.Contract, typ ledger.EventType, data map[string]string) ledger.Event {
	data["status"] = string(c.Status)
	raw, _ := json.Marshal(data)
	return ledger.Event{
		EventType:   typ,
		ContractID:  c.ID,
		ContentHash: c.ContentHash,
		Data:        raw,
		Timestamp:   c.UpdatedAt,
	}
}

// flush records parked events for one contract in order, stopping at the
// first failure. It returns how many were recorded. An event recorded on
// the ledger but not unparked is recorded again on the next flush.
func (s *Service) flush(ctx context.Context, contractID string) (int, error) {
	unlock := s.ledgerLocks.Lock(contractID)
	defer unlock()

	parked, err := s.store.Parked(ctx, contractID)
	if err != nil {
		return 0, fmt.Errorf("load parked events: %w", err)
	}
	for i, p := range parked {
		lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
		ref, err := s.ledger.RecordEvent(lctx, p.Event)
		cancel()
		if err != nil {
			return i, &LedgerRecordingError{
				ContractID: contractID,
				EventType:  p.Event.EventType,
				Pending:    len(parked) - i,
				Err:        err,
			}
		}
		if err := s.store.Unpark(ctx, contractID, p.Seq); err != nil {
			return i, &LedgerRecordingError{
				ContractID: contractID,
				EventType:  p.Event.EventType,
				Pending:    len(parked) - i,
				Err:        fmt.Errorf("unpark event %d: %w", p.Seq, err),
			}
		}
		s.log.WithFields(logrus.Fields{
			"contract_id": contractID,
			"event_type":  p.Event.EventType,
			"tx_ref":      ref,
		}).Debug("ledger event recorded")
	}
	return len(parked), nil
}

// publish drains the contract's parked events after a committed change.
// Callers publish after releasing the contract lock.
func (s *Service) publish(ctx context.Context, contractID string) error {
	_, err := s.flush(ctx, contractID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"contract_id": contractID}).WithError(err).Warn("ledger unavailable, event parked")
		s.emit(ctx, audit.Event{
			Kind:       audit.KindLedgerFailure,
			Outcome:    audit.OutcomeFailure,
			ContractID: contractID,
			Reason:     err.Error(),
		})
	}
	return err
}

// RetryLedger flushes parked events for contractID, or for every contract
// with parked events when contractID is empty. It returns the number of
// events recorded; failures for several contracts are joined.
func (s *Service) RetryLedger(ctx context.Context, contractID string) (int, error) {
	ids := []string{contractID}
	if contractID == "" {
		var err error
		if ids, err = s.store.ParkedContracts(ctx); err != nil {
			return 0, fmt.Errorf("list parked events: %w", err)
		}
	}
	total := 0
	var errs error
	for _, id := range ids {
		n, err := s.flush(ctx, id)
		total += n
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if n > 0 {
			s.emit(ctx, audit.Event{
				Kind:       audit.KindLedgerRecovered,
				Outcome:    audit.OutcomeSuccess,
				ContractID: id,
			})
		}
	}
	return total, errs
}

// Pending reports how many events for contractID wait for the ledger.
func (s *Service) Pending(ctx context.Context, contractID string) (int, error) {
	parked, err := s.store.Parked(ctx, contractID)
	if err != nil {
		return 0, fmt.Errorf("load parked events: %w", err)
	}
	return len(parked), nil
}
