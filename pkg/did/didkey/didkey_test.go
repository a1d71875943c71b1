package didkey

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/accordsai/contractseal/pkg/did"
)

func TestEd25519RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	id, err := FromPublicKey(did.CodecEd25519Pub, pub)
	if err != nil {
		t.Fatalf("FromPublicKey: %v", err)
	}
	doc, err := New().Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if doc.ID != id || len(doc.VerificationMethods) != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}
	m, err := doc.FindMethod(MethodID(id))
	if err != nil {
		t.Fatalf("FindMethod: %v", err)
	}
	codec, key, err := did.DecodeMultikey(m.PublicKeyMultibase)
	if err != nil {
		t.Fatalf("DecodeMultikey: %v", err)
	}
	if codec != did.CodecEd25519Pub || string(key) != string(pub) {
		t.Fatalf("key mismatch")
	}
}

func TestSecp256k1Key(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	id, err := FromPublicKey(did.CodecSecp256k1Pub, priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("FromPublicKey: %v", err)
	}
	if id[:12] != "did:key:zQ3s" {
		t.Fatalf("expected zQ3s prefix for secp256k1, got %s", id[:12])
	}
	if _, err := Document(id); err != nil {
		t.Fatalf("Document: %v", err)
	}
}

func TestRejectsMalformedKeys(t *testing.T) {
	short, _ := FromPublicKey(did.CodecEd25519Pub, []byte{1, 2, 3})
	unknown, _ := FromPublicKey(0x55, make([]byte, 32))
	for _, id := range []string{
		"did:web:example.com",
		"did:key:abc",
		"did:key:z0OIl",
		short,
		unknown,
	} {
		if _, err := Document(id); !errors.Is(err, did.ErrInvalidFormat) {
			t.Fatalf("%s: expected ErrInvalidFormat, got %v", id, err)
		}
	}
}
