package domain

import (
	"time"

	"github.com/goccy/go-json"
)

type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusPendingSignatures Status = "PENDING_SIGNATURES"
	StatusActive            Status = "ACTIVE"
	StatusSuspended         Status = "SUSPENDED"
	StatusTerminated        Status = "TERMINATED"
	StatusVoided            Status = "VOIDED"
)

// MaxSignatures is the number of parties on a bilateral contract.
const MaxSignatures = 2

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingSignatures, StatusActive, StatusSuspended, StatusTerminated, StatusVoided:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusVoided
}

type Contract struct {
	ID          string          `json:"id"`
	ProviderDID string          `json:"provider_did"`
	ConsumerDID string          `json:"consumer_did"`
	Title       string          `json:"title,omitempty"`
	Status      Status          `json:"status"`
	Terms       json.RawMessage `json:"terms"`
	Signatures  []Signature     `json:"signatures"`
	ContentHash string          `json:"content_hash"`
	VoidReason  string          `json:"void_reason,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Signature struct {
	ID                 string    `json:"id"`
	SignerDID          string    `json:"signer_did"`
	Signature          string    `json:"signature"`
	VerificationMethod string    `json:"verification_method"`
	Scheme             string    `json:"scheme,omitempty"`
	SignedAt           time.Time `json:"signed_at"`
}

// IsParty reports whether did is the provider or the consumer.
func (c *Contract) IsParty(did string) bool {
	return did != "" && (did == c.ProviderDID || did == c.ConsumerDID)
}

func (c *Contract) HasSigned(did string) bool {
	for _, s := range c.Signatures {
		if s.SignerDID == did {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	out := *c
	if c.Terms != nil {
		out.Terms = append(json.RawMessage(nil), c.Terms...)
	}
	if c.Signatures != nil {
		out.Signatures = append([]Signature(nil), c.Signatures...)
	}
	return &out
}
