package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

func newContract(id, provider, consumer string, created time.Time) *domain.Contract {
	return &domain.Contract{
		ID:          id,
		ProviderDID: provider,
		ConsumerDID: consumer,
		Status:      domain.StatusDraft,
		Terms:       []byte(`{"fee":10}`),
		ContentHash: "sha256:00",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func signatureBy(signer string, at time.Time) domain.Signature {
	return domain.Signature{
		ID:                 uuid.NewString(),
		SignerDID:          signer,
		Signature:          "z" + signer,
		VerificationMethod: signer + "#keys-1",
		Scheme:             "ed25519",
		SignedAt:           at,
	}
}

// uniq keeps ids apart when the suite runs against a shared database.
func uniq(s string) string { return s + "-" + uuid.NewString()[:8] }

// runStoreSuite exercises the behaviour every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateLoadIsolation", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("c")
		c := newContract(id, "did:example:alice", "did:example:bob", time.Now().UTC().Truncate(time.Microsecond))
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if c.Version != 1 {
			t.Fatalf("expected version 1, got %d", c.Version)
		}
		if err := s.Create(ctx, c); !errors.Is(err, ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}

		got, err := s.Load(ctx, id)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		got.Terms[0] = 'X'
		got.Signatures = append(got.Signatures, domain.Signature{SignerDID: "did:example:alice"})

		again, _ := s.Load(ctx, id)
		if string(again.Terms) != `{"fee":10}` || len(again.Signatures) != 0 {
			t.Fatalf("stored contract mutated through loaded copy: %+v", again)
		}
		if !again.CreatedAt.Equal(c.CreatedAt) {
			t.Fatalf("created_at %v, want %v", again.CreatedAt, c.CreatedAt)
		}
		if _, err := s.Load(ctx, uniq("missing")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveVersioning", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("c")
		_ = s.Create(ctx, newContract(id, "did:example:alice", "did:example:bob", time.Now().UTC()))

		a, _ := s.Load(ctx, id)
		b, _ := s.Load(ctx, id)

		a.Status = domain.StatusPendingSignatures
		if err := s.Save(ctx, a); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if a.Version != 2 {
			t.Fatalf("expected version 2, got %d", a.Version)
		}
		b.Status = domain.StatusVoided
		if err := s.Save(ctx, b); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for stale save, got %v", err)
		}
		cur, _ := s.Load(ctx, id)
		if cur.Status != domain.StatusPendingSignatures || cur.Version != 2 {
			t.Fatalf("stale save applied: %s v%d", cur.Status, cur.Version)
		}
		if err := s.Save(ctx, newContract(uniq("nope"), "", "", time.Now())); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SignaturesAppendOnly", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("c")
		now := time.Now().UTC().Truncate(time.Microsecond)
		_ = s.Create(ctx, newContract(id, "did:example:alice", "did:example:bob", now))

		c, _ := s.Load(ctx, id)
		c.Signatures = append(c.Signatures, signatureBy("did:example:alice", now))
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save first signature: %v", err)
		}
		c.Signatures = append(c.Signatures, signatureBy("did:example:alice", now))
		if err := s.Save(ctx, c); !errors.Is(err, ErrDuplicateSigner) {
			t.Fatalf("expected ErrDuplicateSigner, got %v", err)
		}

		c, _ = s.Load(ctx, id)
		c.Signatures = nil
		if err := s.Save(ctx, c); !errors.Is(err, ErrSignaturesAppendOnly) {
			t.Fatalf("expected ErrSignaturesAppendOnly, got %v", err)
		}

		c, _ = s.Load(ctx, id)
		c.Signatures = append(c.Signatures, signatureBy("did:example:bob", now.Add(time.Second)))
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save second signature: %v", err)
		}
		got, _ := s.Load(ctx, id)
		if len(got.Signatures) != 2 || got.Signatures[0].SignerDID != "did:example:alice" || got.Signatures[1].SignerDID != "did:example:bob" {
			t.Fatalf("unexpected signatures %+v", got.Signatures)
		}
		if !got.Signatures[0].SignedAt.Equal(now) {
			t.Fatalf("signed_at %v, want %v", got.Signatures[0].SignedAt, now)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		alice, bob := uniq("did:example:alice"), uniq("did:example:bob")
		carol, dave := uniq("did:example:carol"), uniq("did:example:dave")
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c1, c2, c3 := uniq("c1"), uniq("c2"), uniq("c3")
		_ = s.Create(ctx, newContract(c2, alice, bob, t0.Add(time.Hour)))
		_ = s.Create(ctx, newContract(c1, alice, carol, t0))
		third := newContract(c3, dave, bob, t0.Add(2*time.Hour))
		third.Status = domain.StatusActive
		_ = s.Create(ctx, third)

		forAlice, _ := s.List(ctx, ListFilter{PartyDID: alice})
		if len(forAlice) != 2 || forAlice[0].ID != c1 || forAlice[1].ID != c2 {
			t.Fatalf("unexpected order %v", ids(forAlice))
		}
		forBob, _ := s.List(ctx, ListFilter{PartyDID: bob})
		if len(forBob) != 2 || forBob[0].ID != c2 {
			t.Fatalf("unexpected party filter %v", ids(forBob))
		}
		active, _ := s.List(ctx, ListFilter{PartyDID: bob, Status: domain.StatusActive})
		if len(active) != 1 || active[0].ID != c3 {
			t.Fatalf("unexpected status filter %v", ids(active))
		}
		limited, _ := s.List(ctx, ListFilter{PartyDID: bob, Limit: 1})
		if len(limited) != 1 {
			t.Fatalf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("ParkedEventsCommitWithChange", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("c")
		now := time.Now().UTC().Truncate(time.Microsecond)
		created := ledger.Event{EventType: ledger.EventCreated, ContentHash: "sha256:00", Data: []byte(`{"status":"DRAFT"}`), Timestamp: now}
		if err := s.Create(ctx, newContract(id, "did:example:alice", "did:example:bob", now), created); err != nil {
			t.Fatalf("Create: %v", err)
		}

		stale, _ := s.Load(ctx, id)
		c, _ := s.Load(ctx, id)
		c.Status = domain.StatusPendingSignatures
		signed := ledger.Event{EventType: ledger.EventSigned, ContentHash: "sha256:01", Timestamp: now.Add(time.Second)}
		if err := s.Save(ctx, c, signed); err != nil {
			t.Fatalf("Save: %v", err)
		}
		lost := ledger.Event{EventType: ledger.EventVoided, ContentHash: "sha256:02"}
		if err := s.Save(ctx, stale, lost); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		parked, err := s.Parked(ctx, id)
		if err != nil {
			t.Fatalf("Parked: %v", err)
		}
		if len(parked) != 2 || parked[0].Event.EventType != ledger.EventCreated || parked[1].Event.EventType != ledger.EventSigned {
			t.Fatalf("unexpected parked events %+v", parked)
		}
		if parked[0].Seq >= parked[1].Seq || parked[0].Event.ContractID != id {
			t.Fatalf("parked events out of order or unbound: %+v", parked)
		}
		if string(parked[0].Event.Data) != `{"status":"DRAFT"}` || !parked[1].Event.Timestamp.Equal(now.Add(time.Second)) {
			t.Fatalf("parked event changed in storage: %+v", parked)
		}

		contracts, _ := s.ParkedContracts(ctx)
		if !contains(contracts, id) {
			t.Fatalf("expected %s among parked contracts %v", id, contracts)
		}
		if err := s.Unpark(ctx, id, parked[0].Seq); err != nil {
			t.Fatalf("Unpark: %v", err)
		}
		left, _ := s.Parked(ctx, id)
		if len(left) != 1 || left[0].Seq != parked[1].Seq {
			t.Fatalf("unexpected remaining events %+v", left)
		}
		_ = s.Unpark(ctx, id, parked[1].Seq)
		if contracts, _ := s.ParkedContracts(ctx); contains(contracts, id) {
			t.Fatalf("drained contract still listed: %v", contracts)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func ids(cs []*domain.Contract) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
