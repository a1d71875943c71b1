// Package lifecycle holds the contract status transition rules. Every
// function here is pure: callers own the contract and the lock around it.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/accordsai/contractseal/pkg/domain"
)

var ErrInvalidTransition = errors.New("invalid transition")

type Action string

const (
	ActionSign      Action = "SIGN"
	ActionVoid      Action = "VOID"
	ActionSuspend   Action = "SUSPEND"
	ActionResume    Action = "RESUME"
	ActionTerminate Action = "TERMINATE"
)

type TransitionError struct {
	From           domain.Status
	Action         Action
	SignatureCount int
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s with %d signature(s)", e.Action, e.From, e.SignatureCount)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CanSign reports whether a contract in status s accepts new signatures.
func CanSign(s domain.Status) bool {
	return s == domain.StatusDraft || s == domain.StatusPendingSignatures
}

// OnSigned computes the status after a signature was appended; count is the
// signature count including the new one.
func OnSigned(prior domain.Status, count int) (domain.Status, error) {
	switch {
	case prior == domain.StatusDraft && count == 1:
		return domain.StatusPendingSignatures, nil
	case prior == domain.StatusPendingSignatures && count == domain.MaxSignatures:
		return domain.StatusActive, nil
	default:
		return prior, &TransitionError{From: prior, Action: ActionSign, SignatureCount: count}
	}
}

// Apply computes the status after an administrative action.
func Apply(prior domain.Status, count int, action Action) (domain.Status, error) {
	fail := func() (domain.Status, error) {
		return prior, &TransitionError{From: prior, Action: action, SignatureCount: count}
	}
	switch action {
	case ActionSign:
		return OnSigned(prior, count)
	case ActionVoid:
		switch prior {
		case domain.StatusDraft, domain.StatusPendingSignatures, domain.StatusActive:
			return domain.StatusVoided, nil
		}
	case ActionSuspend:
		switch prior {
		case domain.StatusPendingSignatures, domain.StatusActive:
			return domain.StatusSuspended, nil
		}
	case ActionResume:
		if prior == domain.StatusSuspended {
			if count >= domain.MaxSignatures {
				return domain.StatusActive, nil
			}
			return domain.StatusPendingSignatures, nil
		}
	case ActionTerminate:
		switch prior {
		case domain.StatusActive, domain.StatusSuspended:
			return domain.StatusTerminated, nil
		}
	}
	return fail()
}
