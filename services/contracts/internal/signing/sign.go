package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/pkg/lifecycle"
	"github.com/accordsai/contractseal/pkg/signature"
)

type SignRequest struct {
	ContractID           string `json:"contract_id"`
	SignerDID            string `json:"signer_did"`
	Signature            string `json:"signature"`
	VerificationMethodID string `json:"verification_method"`
}

// SigningMessage is what each party signs: the content hash bound to the
// contract id.
func SigningMessage(c *domain.Contract) []byte {
	return signature.SigningMessage(c.ID, c.ContentHash)
}

// Sign verifies req against the signer's DID document and appends the
// signature. When the ledger is unreachable the signed contract is returned
// together with a *LedgerRecordingError.
func (s *Service) Sign(ctx context.Context, req SignRequest) (*domain.Contract, error) {
	logger := s.log.WithFields(logrus.Fields{"contract_id": req.ContractID, "signer_did": req.SignerDID})
	c, prior, err := s.sign(ctx, req)
	if err != nil {
		logger.WithError(err).Info("sign rejected")
		s.emit(ctx, audit.Event{
			Kind:       audit.KindSignAttempt,
			Outcome:    audit.OutcomeFailure,
			ContractID: req.ContractID,
			ActorDID:   req.SignerDID,
			Reason:     err.Error(),
		})
		return nil, err
	}

	logger.WithFields(logrus.Fields{"status": c.Status, "signatures": len(c.Signatures)}).Info("contract signed")
	s.emit(ctx, audit.Event{Kind: audit.KindSignAttempt, Outcome: audit.OutcomeSuccess, ContractID: c.ID, ActorDID: req.SignerDID})
	if prior != c.Status {
		s.emit(ctx, audit.Event{
			Kind:       audit.KindStatusChanged,
			Outcome:    audit.OutcomeSuccess,
			ContractID: c.ID,
			ActorDID:   req.SignerDID,
			Attrs:      map[string]string{"from": string(prior), "to": string(c.Status)},
		})
	}
	return c, s.publish(ctx, c.ID)
}

// sign runs under the contract lock and returns the saved contract and
// its status before signing. The SIGNED event is parked with the save.
func (s *Service) sign(ctx context.Context, req SignRequest) (*domain.Contract, domain.Status, error) {
	unlock := s.locks.Lock(req.ContractID)
	defer unlock()

	c, err := s.load(ctx, req.ContractID)
	if err != nil {
		return nil, "", err
	}
	if !c.IsParty(req.SignerDID) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnauthorizedSigner, req.SignerDID)
	}
	if c.HasSigned(req.SignerDID) {
		return nil, "", fmt.Errorf("%w: %s", ErrAlreadySigned, req.SignerDID)
	}
	if !lifecycle.CanSign(c.Status) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContractStatus, c.Status)
	}

	doc, err := s.resolver.Resolve(ctx, req.SignerDID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	method, err := doc.FindMethod(req.VerificationMethodID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrVerificationMethodNotFound, req.VerificationMethodID)
	}

	// Signatures cover the recomputed hash, never the stored one.
	hash, err := canonhash.ContractHash(c)
	if err != nil {
		return nil, "", fmt.Errorf("content hash: %w", err)
	}
	c.ContentHash = hash
	if err := s.verify(c, req.Signature, method); err != nil {
		return nil, "", err
	}

	prior := c.Status
	now := s.now().UTC()
	c.Signatures = append(c.Signatures, domain.Signature{
		ID:                 uuid.NewString(),
		SignerDID:          req.SignerDID,
		Signature:          req.Signature,
		VerificationMethod: method.ID,
		Scheme:             s.schemeName(method),
		SignedAt:           now,
	})
	next, err := lifecycle.OnSigned(prior, len(c.Signatures))
	if err != nil {
		s.transitionFailed(c, err)
		return nil, "", err
	}
	c.Status = next
	if c.ContentHash, err = canonhash.ContractHash(c); err != nil {
		return nil, "", fmt.Errorf("content hash: %w", err)
	}
	c.UpdatedAt = now

	ev := s.pendingEvent(c, ledger.EventSigned, map[string]string{
		"signer_did":          req.SignerDID,
		"signature":           req.Signature,
		"verification_method": method.ID,
		"signed_at":           now.Format(time.RFC3339Nano),
	})
	if err := s.store.Save(ctx, c, ev); err != nil {
		return nil, "", fmt.Errorf("save contract: %w", err)
	}
	return c, prior, nil
}

// verify checks sig over c's signing message. Decode and key errors stay in
// the chain behind ErrInvalidSignature.
func (s *Service) verify(c *domain.Contract, sig string, method did.VerificationMethod) error {
	raw, err := signature.DecodeSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	ok, err := s.verifier.Verify(SigningMessage(c), raw, method)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !ok {
		return fmt.Errorf("%w: verification failed for %s", ErrInvalidSignature, method.ID)
	}
	return nil
}

func (s *Service) schemeName(m did.VerificationMethod) string {
	if r, ok := s.verifier.(schemeResolver); ok {
		if scheme, _, err := r.Resolve(m); err == nil {
			return scheme.Name()
		}
		return ""
	}
	name, _ := signature.SchemeOf(m)
	return name
}

func (s *Service) transitionFailed(c *domain.Contract, err error) {
	fields := logrus.Fields{"contract_id": c.ID, "status": c.Status, "signatures": len(c.Signatures)}
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		fields["action"] = te.Action
	}
	s.log.WithFields(fields).WithError(err).Error("invalid contract state transition")
}
