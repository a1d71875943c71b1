package signing

import (
	"errors"
	"fmt"

	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/pkg/lifecycle"
)

var (
	ErrNotFound                   = errors.New("contract not found")
	ErrInvalidInput               = errors.New("invalid input")
	ErrUnauthorizedSigner         = errors.New("signer is not a party to the contract")
	ErrAlreadySigned              = errors.New("signer has already signed")
	ErrInvalidContractStatus      = errors.New("contract status does not allow this operation")
	ErrVerificationMethodNotFound = errors.New("verification method not found")
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrResolutionFailed           = errors.New("did resolution failed")
	ErrLedgerRecordingFailed      = errors.New("ledger recording failed")
	ErrLedgerUnavailable          = errors.New("ledger unavailable")
	ErrHistoryUnsupported         = errors.New("ledger does not expose history")

	// ErrInvalidTransition is the state machine's sentinel, re-exported so
	// callers only import this package.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
)

// LedgerRecordingError is returned together with a committed contract when
// the ledger could not take the event. The event stays parked until
// RetryLedger succeeds.
type LedgerRecordingError struct {
	ContractID string
	EventType  ledger.EventType
	Pending    int
	Err        error
}

func (e *LedgerRecordingError) Error() string {
	return fmt.Sprintf("ledger recording failed for %s (%s, %d pending): %v", e.ContractID, e.EventType, e.Pending, e.Err)
}

func (e *LedgerRecordingError) Unwrap() []error {
	return []error{ErrLedgerRecordingFailed, e.Err}
}

// IsWarning reports whether err leaves local state committed.
func IsWarning(err error) bool {
	var lre *LedgerRecordingError
	return errors.As(err, &lre)
}
