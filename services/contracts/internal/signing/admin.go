package signing

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/pkg/lifecycle"
)

// Void moves a pre-terminal contract to Voided and records VOIDED with the
// reason. Signatures are kept.
func (s *Service) Void(ctx context.Context, id, reason, voiderDID string) (*domain.Contract, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: void reason is required", ErrInvalidInput)
	}
	return s.administer(ctx, id, voiderDID, lifecycle.ActionVoid, reason)
}

func (s *Service) Suspend(ctx context.Context, id, actorDID, reason string) (*domain.Contract, error) {
	return s.administer(ctx, id, actorDID, lifecycle.ActionSuspend, reason)
}

// Resume returns a suspended contract to Active, or to PendingSignatures
// when a party has not signed yet.
func (s *Service) Resume(ctx context.Context, id, actorDID, reason string) (*domain.Contract, error) {
	return s.administer(ctx, id, actorDID, lifecycle.ActionResume, reason)
}

func (s *Service) Terminate(ctx context.Context, id, actorDID, reason string) (*domain.Contract, error) {
	return s.administer(ctx, id, actorDID, lifecycle.ActionTerminate, reason)
}

func (s *Service) administer(ctx context.Context, id, actorDID string, action lifecycle.Action, reason string) (*domain.Contract, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actorDID) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedSigner, actorDID)
	}
	prior := c.Status
	next, err := lifecycle.Apply(prior, len(c.Signatures), action)
	if err != nil {
		s.transitionFailed(c, err)
		return nil, err
	}
	c.Status = next
	c.UpdatedAt = s.now().UTC()
	if action == lifecycle.ActionVoid {
		c.VoidReason = reason
	}
	if c.ContentHash, err = canonhash.ContractHash(c); err != nil {
		return nil, fmt.Errorf("content hash: %w", err)
	}

	typ := ledger.EventUpdated
	data := map[string]string{
		"action":    strings.ToLower(string(action)),
		"actor_did": actorDID,
		"from":      string(prior),
	}
	if reason != "" {
		data["reason"] = reason
	}
	if action == lifecycle.ActionVoid {
		typ = ledger.EventVoided
		data["voider_did"] = actorDID
	}
	if err := s.store.Save(ctx, c, s.pendingEvent(c, typ, data)); err != nil {
		return nil, fmt.Errorf("save contract: %w", err)
	}
	unlock()

	s.log.WithFields(logrus.Fields{
		"contract_id": id,
		"action":      action,
		"from":        prior,
		"status":      c.Status,
	}).Info("contract status changed")
	s.emit(ctx, audit.Event{
		Kind:       audit.KindStatusChanged,
		Outcome:    audit.OutcomeSuccess,
		ContractID: id,
		ActorDID:   actorDID,
		Reason:     reason,
		Attrs:      map[string]string{"from": string(prior), "to": string(c.Status), "action": string(action)},
	})
	return c, s.publish(ctx, id)
}
