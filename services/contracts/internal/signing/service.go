// Package signing is the entry point for contract mutations: it checks
// authorization and state, verifies DID signatures, drives the lifecycle
// and records every change on the ledger.
package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/keylock"
	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/pkg/signature"
	"github.com/accordsai/contractseal/services/contracts/internal/store"
)

const DefaultLedgerTimeout = 10 * time.Second

// Store must park the events passed to Create and Save in the same write
// as the contract change.
type Store interface {
	Create(ctx context.Context, c *domain.Contract, park ...ledger.Event) error
	Load(ctx context.Context, id string) (*domain.Contract, error)
	Save(ctx context.Context, c *domain.Contract, park ...ledger.Event) error
	List(ctx context.Context, f store.ListFilter) ([]*domain.Contract, error)
	Parked(ctx context.Context, contractID string) ([]store.Parked, error)
	Unpark(ctx context.Context, contractID string, seq int64) error
	ParkedContracts(ctx context.Context) ([]string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, did string) (*did.Document, error)
}

type Verifier interface {
	Verify(message, sig []byte, m did.VerificationMethod) (bool, error)
}

// schemeResolver is implemented by *signature.Registry.
type schemeResolver interface {
	Resolve(m did.VerificationMethod) (signature.Scheme, []byte, error)
}

type Options struct {
	Store    Store
	Resolver Resolver
	// Verifier defaults to signature.DefaultRegistry().
	Verifier      Verifier
	Ledger        ledger.Client
	Audit         audit.Sink
	Logger        *logrus.Entry
	LedgerTimeout time.Duration
	Now           func() time.Time
}

type Service struct {
	store         Store
	resolver      Resolver
	verifier      Verifier
	ledger        ledger.Client
	audit         audit.Sink
	log           *logrus.Entry
	ledgerTimeout time.Duration
	now           func() time.Time

	locks       *keylock.Map
	ledgerLocks *keylock.Map
}

func New(opts Options) *Service {
	s := &Service{
		store:         opts.Store,
		resolver:      opts.Resolver,
		verifier:      opts.Verifier,
		ledger:        opts.Ledger,
		audit:         opts.Audit,
		log:           opts.Logger,
		ledgerTimeout: opts.LedgerTimeout,
		now:           opts.Now,
		locks:         keylock.New(),
		ledgerLocks:   keylock.New(),
	}
	if s.verifier == nil {
		s.verifier = signature.DefaultRegistry()
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "signing")
	if s.ledgerTimeout <= 0 {
		s.ledgerTimeout = DefaultLedgerTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateRequest struct {
	ProviderDID string          `json:"provider_did"`
	ConsumerDID string          `json:"consumer_did"`
	Title       string          `json:"title"`
	Terms       json.RawMessage `json:"terms"`
}

// Create stores a new Draft contract and records CREATED. A ledger failure
// is returned as *LedgerRecordingError next to the stored contract.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Contract, error) {
	if err := validateParties(req.ProviderDID, req.ConsumerDID); err != nil {
		return nil, err
	}
	if _, err := canonhash.CanonicalTerms(req.Terms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	c := &domain.Contract{
		ID:          uuid.NewString(),
		ProviderDID: req.ProviderDID,
		ConsumerDID: req.ConsumerDID,
		Title:       req.Title,
		Status:      domain.StatusDraft,
		Terms:       append(json.RawMessage(nil), req.Terms...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	hash, err := canonhash.ContractHash(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	c.ContentHash = hash

	ev := s.pendingEvent(c, ledger.EventCreated, map[string]string{
		"provider_did": c.ProviderDID,
		"consumer_did": c.ConsumerDID,
		"title":        c.Title,
	})
	if err := s.store.Create(ctx, c, ev); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}

	s.log.WithFields(logrus.Fields{"contract_id": c.ID, "content_hash": c.ContentHash}).Info("contract created")
	s.emit(ctx, audit.Event{Kind: audit.KindContractCreated, Outcome: audit.OutcomeSuccess, ContractID: c.ID, ActorDID: c.ProviderDID})
	return c, s.publish(ctx, c.ID)
}

func validateParties(provider, consumer string) error {
	if _, _, err := did.Parse(provider); err != nil {
		return fmt.Errorf("%w: provider_did: %v", ErrInvalidInput, err)
	}
	if _, _, err := did.Parse(consumer); err != nil {
		return fmt.Errorf("%w: consumer_did: %v", ErrInvalidInput, err)
	}
	if provider == consumer {
		return fmt.Errorf("%w: provider and consumer must differ", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Contract, error) {
	return s.load(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.ListFilter) ([]*domain.Contract, error) {
	return s.store.List(ctx, f)
}

type TermsUpdate struct {
	UpdaterDID string          `json:"updater_did"`
	Title      *string         `json:"title,omitempty"`
	Terms      json.RawMessage `json:"terms,omitempty"`
}

// UpdateTerms edits a Draft contract and records UPDATED with the new hash.
func (s *Service) UpdateTerms(ctx context.Context, id string, upd TermsUpdate) (*domain.Contract, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(upd.UpdaterDID) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedSigner, upd.UpdaterDID)
	}
	if c.Status != domain.StatusDraft {
		return nil, fmt.Errorf("%w: terms are frozen in %s", ErrInvalidContractStatus, c.Status)
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Terms != nil {
		if _, err := canonhash.CanonicalTerms(upd.Terms); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		c.Terms = append(json.RawMessage(nil), upd.Terms...)
	}
	prevHash := c.ContentHash
	if c.ContentHash, err = canonhash.ContractHash(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	c.UpdatedAt = s.now().UTC()
	ev := s.pendingEvent(c, ledger.EventUpdated, map[string]string{
		"action":        "update_terms",
		"updater_did":   upd.UpdaterDID,
		"previous_hash": prevHash,
	})
	if err := s.store.Save(ctx, c, ev); err != nil {
		return nil, fmt.Errorf("save contract: %w", err)
	}
	unlock()

	s.emit(ctx, audit.Event{Kind: audit.KindTermsUpdated, Outcome: audit.OutcomeSuccess, ContractID: id, ActorDID: upd.UpdaterDID})
	return c, s.publish(ctx, id)
}

// Events returns the ledger history of a contract.
func (s *Service) Events(ctx context.Context, id string) ([]ledger.Event, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	h, ok := s.ledger.(ledger.History)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	evs, err := h.Events(lctx, id)
	if errors.Is(err, ledger.ErrHistoryUnsupported) {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnsupported, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return evs, nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Contract, error) {
	c, err := s.store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	return c, nil
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	if err := s.audit.Emit(ctx, e); err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Warn("audit sink rejected event")
	}
}
