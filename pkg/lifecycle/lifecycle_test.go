package lifecycle

import (
	"errors"
	"testing"

	"github.com/accordsai/contractseal/pkg/domain"
)

func TestOnSignedHappyPath(t *testing.T) {
	s, err := OnSigned(domain.StatusDraft, 1)
	if err != nil || s != domain.StatusPendingSignatures {
		t.Fatalf("first signature: got %s, %v", s, err)
	}
	s, err = OnSigned(s, 2)
	if err != nil || s != domain.StatusActive {
		t.Fatalf("second signature: got %s, %v", s, err)
	}
}

func TestOnSignedRejectsUnexpectedCombinations(t *testing.T) {
	cases := []struct {
		prior domain.Status
		count int
	}{
		{domain.StatusDraft, 0},
		{domain.StatusDraft, 2},
		{domain.StatusPendingSignatures, 1},
		{domain.StatusPendingSignatures, 3},
		{domain.StatusActive, 2},
		{domain.StatusVoided, 1},
		{domain.StatusSuspended, 2},
	}
	for _, tc := range cases {
		got, err := OnSigned(tc.prior, tc.count)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s/%d: expected ErrInvalidTransition, got %v", tc.prior, tc.count, err)
		}
		if got != tc.prior {
			t.Fatalf("%s/%d: status changed on failure to %s", tc.prior, tc.count, got)
		}
		var te *TransitionError
		if !errors.As(err, &te) || te.Action != ActionSign {
			t.Fatalf("expected TransitionError for sign, got %#v", err)
		}
	}
}

func TestVoidOnlyFromPreTerminalStates(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusDraft, domain.StatusPendingSignatures, domain.StatusActive} {
		got, err := Apply(s, 0, ActionVoid)
		if err != nil || got != domain.StatusVoided {
			t.Fatalf("void from %s: got %s, %v", s, got, err)
		}
	}
	for _, s := range []domain.Status{domain.StatusTerminated, domain.StatusVoided, domain.StatusSuspended} {
		if _, err := Apply(s, 0, ActionVoid); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("void from %s: expected ErrInvalidTransition, got %v", s, err)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	actions := []Action{ActionSign, ActionVoid, ActionSuspend, ActionResume, ActionTerminate}
	for _, s := range []domain.Status{domain.StatusTerminated, domain.StatusVoided} {
		for _, a := range actions {
			for count := 0; count <= 2; count++ {
				if _, err := Apply(s, count, a); !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s from %s (%d): expected ErrInvalidTransition, got %v", a, s, count, err)
				}
			}
		}
	}
}

func TestSuspendResumeTerminate(t *testing.T) {
	s, err := Apply(domain.StatusActive, 2, ActionSuspend)
	if err != nil || s != domain.StatusSuspended {
		t.Fatalf("suspend: %s, %v", s, err)
	}
	s, err = Apply(s, 2, ActionResume)
	if err != nil || s != domain.StatusActive {
		t.Fatalf("resume with both signatures: %s, %v", s, err)
	}
	s, err = Apply(domain.StatusSuspended, 1, ActionResume)
	if err != nil || s != domain.StatusPendingSignatures {
		t.Fatalf("resume with one signature: %s, %v", s, err)
	}
	if _, err := Apply(domain.StatusDraft, 0, ActionSuspend); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("suspend from draft should fail, got %v", err)
	}
	if _, err := Apply(domain.StatusPendingSignatures, 1, ActionTerminate); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminate from pending should fail, got %v", err)
	}
	s, err = Apply(domain.StatusSuspended, 2, ActionTerminate)
	if err != nil || s != domain.StatusTerminated {
		t.Fatalf("terminate from suspended: %s, %v", s, err)
	}
}

func TestCanSign(t *testing.T) {
	if !CanSign(domain.StatusDraft) || !CanSign(domain.StatusPendingSignatures) {
		t.Fatalf("expected draft and pending signable")
	}
	for _, s := range []domain.Status{domain.StatusActive, domain.StatusSuspended, domain.StatusTerminated, domain.StatusVoided} {
		if CanSign(s) {
			t.Fatalf("expected %s not signable", s)
		}
	}
}
