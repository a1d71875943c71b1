package signature

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
)

const messagePrefix = "contractseal/sign/v1"

// SigningMessage is the byte string both parties sign for a contract.
func SigningMessage(contractID, contentHash string) []byte {
	return []byte(messagePrefix + "\n" + contractID + "\n" + contentHash)
}

// DecodeSignature accepts the boundary encodings in this order: 0x-prefixed
// or bare even-length hex, base58, base64url without padding, standard
// base64.
func DecodeSignature(in string) ([]byte, error) {
	s := strings.TrimSpace(in)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedSignature)
	}
	if strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: hex: %v", ErrMalformedSignature, err)
		}
		return b, nil
	}
	if len(s)%2 == 0 && isHex(s) {
		return hex.DecodeString(s)
	}
	if b, err := base58.Decode(s); err == nil && len(b) > 0 {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: unrecognised encoding", ErrMalformedSignature)
}

// EncodeSignature renders signature bytes as base58.
func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// SignEd25519 returns a raw 64-byte signature.
func SignEd25519(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// SignSecp256k1 returns a 64-byte compact R||S signature over the Keccak-256
// digest of message.
func SignSecp256k1(priv *secp256k1.PrivateKey, message []byte) []byte {
	compact := secpecdsa.SignCompact(priv, Keccak256(message), true)
	return compact[1:]
}

// SignP256 returns a DER signature over the SHA-256 digest of message.
func SignP256(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}
