// Package store persists contracts and their signatures.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

var (
	ErrNotFound = errors.New("store: contract not found")
	ErrExists   = errors.New("store: contract already exists")
	// ErrConflict means the contract changed since it was loaded.
	ErrConflict = errors.New("store: version conflict")
	// ErrSignaturesAppendOnly means a save would remove a stored signature.
	ErrSignaturesAppendOnly = errors.New("store: signatures are append-only")
	ErrDuplicateSigner      = errors.New("store: signer already has a signature")
)

// Parked is a ledger event committed together with its contract change
// that the ledger has not taken yet. Seq orders events across contracts.
type Parked struct {
	Seq   int64
	Event ledger.Event
}

type ListFilter struct {
	PartyDID string
	Status   domain.Status
	Limit    int
}

// Store implementations hand out copies: mutating a returned contract has
// no effect until Save. Save bumps Version and fails with ErrConflict when
// the stored version differs from c.Version.
//
// Events passed to Create and Save are parked atomically with the change
// and stay parked until Unpark, so a restart cannot lose them.
type Store interface {
	Create(ctx context.Context, c *domain.Contract, park ...ledger.Event) error
	Load(ctx context.Context, id string) (*domain.Contract, error)
	Save(ctx context.Context, c *domain.Contract, park ...ledger.Event) error
	List(ctx context.Context, f ListFilter) ([]*domain.Contract, error)

	// Parked lists a contract's parked events, oldest first.
	Parked(ctx context.Context, contractID string) ([]Parked, error)
	Unpark(ctx context.Context, contractID string, seq int64) error
	// ParkedContracts lists contracts with parked events, by oldest event.
	ParkedContracts(ctx context.Context) ([]string, error)
}

func (f ListFilter) match(c *domain.Contract) bool {
	if f.PartyDID != "" && !c.IsParty(f.PartyDID) {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// checkAppend rejects a save that removes stored signatures or signs twice.
func checkAppend(stored int, c *domain.Contract) error {
	if stored > len(c.Signatures) {
		return fmt.Errorf("%w: %s would drop %d stored signature(s)", ErrSignaturesAppendOnly, c.ID, stored-len(c.Signatures))
	}
	seen := make(map[string]bool, len(c.Signatures))
	for _, sig := range c.Signatures {
		if seen[sig.SignerDID] {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, sig.SignerDID)
		}
		seen[sig.SignerDID] = true
	}
	return nil
}
