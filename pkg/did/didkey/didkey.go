// Package didkey resolves did:key identifiers. The document is derived from
// the identifier itself, so resolution never touches the network.
package didkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/accordsai/contractseal/pkg/did"
)

const Method = "key"

type Resolver struct{}

func New() *Resolver { return &Resolver{} }

func (Resolver) Resolve(ctx context.Context, id string) (*did.Document, error) {
	_ = ctx
	return Document(id)
}

// Document expands a did:key into its single-key document. The method id is
// "<did>#<multibase>" as in the did:key spec.
func Document(id string) (*did.Document, error) {
	method, mb, err := did.Parse(id)
	if err != nil {
		return nil, err
	}
	if method != Method {
		return nil, fmt.Errorf("%w: not a did:key: %s", did.ErrInvalidFormat, id)
	}
	if !strings.HasPrefix(mb, "z") {
		return nil, fmt.Errorf("%w: did:key must be base58btc multibase", did.ErrInvalidFormat)
	}
	codec, key, err := did.DecodeMultikey(mb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", did.ErrInvalidFormat, err)
	}
	switch codec {
	case did.CodecEd25519Pub:
		if len(key) != 32 {
			return nil, fmt.Errorf("%w: ed25519 key length %d", did.ErrInvalidFormat, len(key))
		}
	case did.CodecSecp256k1Pub:
		if len(key) != 33 {
			return nil, fmt.Errorf("%w: secp256k1 key length %d", did.ErrInvalidFormat, len(key))
		}
	case did.CodecP256Pub:
		if len(key) != 33 {
			return nil, fmt.Errorf("%w: p256 key length %d", did.ErrInvalidFormat, len(key))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported key codec 0x%x", did.ErrInvalidFormat, codec)
	}
	vmID := id + "#" + mb
	return &did.Document{
		ID: id,
		VerificationMethods: []did.VerificationMethod{{
			ID:                 vmID,
			Type:               did.TypeMultikey,
			Controller:         id,
			PublicKeyMultibase: mb,
		}},
		Authentication:  []string{vmID},
		AssertionMethod: []string{vmID},
	}, nil
}

// FromPublicKey builds a did:key for a raw public key; secp256k1 and P-256
// keys must be in compressed form.
func FromPublicKey(codec uint64, pub []byte) (string, error) {
	mb, err := did.EncodeMultikey(codec, pub)
	if err != nil {
		return "", err
	}
	return "did:key:" + mb, nil
}

// MethodID returns the id of the only verification method of a did:key.
func MethodID(id string) string {
	return id + "#" + strings.TrimPrefix(id, "did:key:")
}
