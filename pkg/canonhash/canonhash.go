package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/accordsai/contractseal/pkg/domain"
)

const Prefix = "sha256:"

// SumObject hashes the JSON encoding of v. Map keys are emitted sorted, so
// two maps holding the same state hash the same.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:]), b, nil
}

// material is the hashed projection of a contract. Signatures, status and
// timestamps are left out: they change without the agreement changing.
type material struct {
	ConsumerDID string `json:"consumer_did"`
	ProviderDID string `json:"provider_did"`
	Terms       any    `json:"terms"`
	Title       string `json:"title"`
}

// ContractHash returns the content hash of c's material fields.
func ContractHash(c *domain.Contract) (string, error) {
	if c == nil {
		return "", fmt.Errorf("nil contract")
	}
	terms, err := CanonicalTerms(c.Terms)
	if err != nil {
		return "", err
	}
	h, _, err := SumObject(material{
		ConsumerDID: c.ConsumerDID,
		ProviderDID: c.ProviderDID,
		Terms:       terms,
		Title:       c.Title,
	})
	return h, err
}

// CanonicalTerms decodes raw terms into a value whose encoding is stable:
// object keys sorted, numbers kept as their literal text.
func CanonicalTerms(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("terms: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("terms: trailing data")
	}
	return v, nil
}

// Digest returns the raw 32 bytes behind a "sha256:<hex>" hash.
func Digest(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(h), Prefix))
	if err != nil {
		return nil, fmt.Errorf("invalid hash: %w", err)
	}
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("invalid hash length: %d", len(b))
	}
	return b, nil
}
