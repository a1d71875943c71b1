package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

// VerificationReport compares a contract's current material with the hash
// the ledger recorded last. Valid needs the two to match. BlockchainVerified
// is false when the ledger could not be asked or still has events parked
// for the contract.
type VerificationReport struct {
	ContractID         string    `json:"contract_id"`
	Valid              bool      `json:"valid"`
	BlockchainVerified bool      `json:"blockchain_verified"`
	SignatureCount     int       `json:"signature_count"`
	Status             string    `json:"status"`
	ComputedHash       string    `json:"computed_hash"`
	StoredHash         string    `json:"stored_hash"`
	LedgerHash         string    `json:"ledger_hash,omitempty"`
	PendingEvents      int       `json:"pending_events,omitempty"`
	LedgerError        string    `json:"ledger_error,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// VerifyState reads a snapshot without taking the contract lock.
func (s *Service) VerifyState(ctx context.Context, id string) (*VerificationReport, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	computed, err := canonhash.ContractHash(c)
	if err != nil {
		return nil, fmt.Errorf("content hash: %w", err)
	}
	pending, err := s.Pending(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &VerificationReport{
		ContractID:     id,
		SignatureCount: len(c.Signatures),
		Status:         string(c.Status),
		ComputedHash:   computed,
		StoredHash:     c.ContentHash,
		PendingEvents:  pending,
		CheckedAt:      s.now().UTC(),
	}

	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	last, err := s.ledger.LastHash(lctx, id)
	cancel()
	switch {
	case err == nil:
		r.LedgerHash = last
		r.BlockchainVerified = r.PendingEvents == 0
		r.Valid = last == computed
	case errors.Is(err, ledger.ErrNoEvents):
		r.BlockchainVerified = r.PendingEvents == 0
	default:
		r.LedgerError = err.Error()
	}

	logger := s.log.WithFields(logrus.Fields{
		"contract_id":         id,
		"valid":               r.Valid,
		"blockchain_verified": r.BlockchainVerified,
	})
	e := audit.Event{Kind: audit.KindVerification, Outcome: audit.OutcomeSuccess, ContractID: id}
	if !r.Valid {
		logger.Warn("contract state does not match ledger")
		e.Kind = audit.KindVerificationFailed
		e.Outcome = audit.OutcomeFailure
		e.Attrs = map[string]string{"computed_hash": computed, "ledger_hash": r.LedgerHash}
		e.Reason = r.LedgerError
	} else {
		logger.Debug("contract state verified")
	}
	s.emit(ctx, e)
	return r, nil
}

type SignatureCheck struct {
	SignerDID          string `json:"signer_did"`
	VerificationMethod string `json:"verification_method"`
	Valid              bool   `json:"valid"`
	Error              string `json:"error,omitempty"`
}

// SignatureReport is the result of re-verifying every stored signature.
// LedgerSigned is -1 when the ledger keeps no history.
type SignatureReport struct {
	ContractID    string           `json:"contract_id"`
	Valid         bool             `json:"valid"`
	Complete      bool             `json:"complete"`
	Signatures    []SignatureCheck `json:"signatures"`
	LedgerSigned  int              `json:"ledger_signed"`
	LedgerMatches bool             `json:"ledger_matches"`
	Problems      []string         `json:"problems,omitempty"`

	Err error `json:"-"`
}

// VerifySignatures re-resolves each signer and checks the stored signature
// against the current signing message. It also matches SIGNED events on the
// ledger against local signatures when history is available. Per-signature
// failures are collected in the report; the error return is for load
// failures only.
func (s *Service) VerifySignatures(ctx context.Context, id string) (*SignatureReport, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ContentHash, err = canonhash.ContractHash(c); err != nil {
		return nil, fmt.Errorf("content hash: %w", err)
	}
	r := &SignatureReport{
		ContractID:   id,
		Complete:     len(c.Signatures) == domain.MaxSignatures,
		LedgerSigned: -1,
	}

	var errs error
	for _, sig := range c.Signatures {
		check := SignatureCheck{SignerDID: sig.SignerDID, VerificationMethod: sig.VerificationMethod}
		if err := s.checkSignature(ctx, c, sig); err != nil {
			check.Error = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.SignerDID, err))
		} else {
			check.Valid = true
		}
		r.Signatures = append(r.Signatures, check)
	}

	r.LedgerMatches = true
	if h, ok := s.ledger.(ledger.History); ok {
		lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
		evs, err := h.Events(lctx, id)
		cancel()
		switch {
		case errors.Is(err, ledger.ErrHistoryUnsupported):
		case err != nil:
			r.LedgerMatches = false
			errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
		default:
			if err := matchSigned(evs, c.Signatures, r); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	r.Err = errs
	for _, e := range multierr.Errors(errs) {
		r.Problems = append(r.Problems, e.Error())
	}
	r.Valid = errs == nil
	return r, nil
}

func (s *Service) checkSignature(ctx context.Context, c *domain.Contract, sig domain.Signature) error {
	if !c.IsParty(sig.SignerDID) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedSigner, sig.SignerDID)
	}
	doc, err := s.resolver.Resolve(ctx, sig.SignerDID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	method, err := doc.FindMethod(sig.VerificationMethod)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationMethodNotFound, err)
	}
	return s.verify(c, sig.Signature, method)
}

// matchSigned counts SIGNED events and checks each local signature has one.
func matchSigned(evs []ledger.Event, sigs []domain.Signature, r *SignatureReport) error {
	type signedData struct {
		SignerDID string `json:"signer_did"`
		Signature string `json:"signature"`
	}
	onLedger := make(map[signedData]bool)
	r.LedgerSigned = 0
	for _, e := range evs {
		if e.EventType != ledger.EventSigned {
			continue
		}
		r.LedgerSigned++
		var d signedData
		if err := json.Unmarshal(e.Data, &d); err == nil {
			onLedger[d] = true
		}
	}
	var errs error
	if r.LedgerSigned != len(sigs) {
		errs = multierr.Append(errs, fmt.Errorf("ledger has %d SIGNED event(s), contract has %d signature(s)", r.LedgerSigned, len(sigs)))
	}
	for _, sig := range sigs {
		if !onLedger[signedData{SignerDID: sig.SignerDID, Signature: sig.Signature}] {
			errs = multierr.Append(errs, fmt.Errorf("signature by %s missing from ledger", sig.SignerDID))
		}
	}
	r.LedgerMatches = errs == nil
	return errs
}
