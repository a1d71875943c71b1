package signature

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
	"golang.org/x/crypto/sha3"

	"github.com/accordsai/contractseal/pkg/did"
)

var defaultRegistry = DefaultRegistry()

// Verify checks sig over message against m using the default registry.
func Verify(message, sig []byte, m did.VerificationMethod) (bool, error) {
	return defaultRegistry.Verify(message, sig, m)
}

// SchemeOf reports which scheme the default registry would use for m.
func SchemeOf(m did.VerificationMethod) (string, error) {
	s, _, err := defaultRegistry.Resolve(m)
	if err != nil {
		return "", err
	}
	return s.Name(), nil
}

func (r *Registry) Verify(message, sig []byte, m did.VerificationMethod) (bool, error) {
	s, pub, err := r.Resolve(m)
	if err != nil {
		return false, err
	}
	return s.Verify(message, sig, pub)
}

// Resolve picks the scheme for m and decodes its public key.
func (r *Registry) Resolve(m did.VerificationMethod) (Scheme, []byte, error) {
	var (
		name string
		pub  []byte
		err  error
	)
	switch m.Type {
	case did.TypeMultikey:
		name, pub, err = multikeyMaterial(m.PublicKeyMultibase)
	case did.TypeJSONWebKey2020:
		name, pub, err = jwkMaterial(m.PublicKeyJwk)
	default:
		var ok bool
		if name, ok = r.types[m.Type]; !ok {
			return nil, nil, fmt.Errorf("%w: method type %q", ErrUnsupportedScheme, m.Type)
		}
		pub, err = keyMaterial(m)
	}
	if err != nil {
		return nil, nil, err
	}
	s, err := r.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ParseKey(pub); err != nil {
		return nil, nil, err
	}
	return s, pub, nil
}

func keyMaterial(m did.VerificationMethod) ([]byte, error) {
	switch {
	case m.PublicKeyBase58 != "":
		b, err := base58.Decode(strings.TrimSpace(m.PublicKeyBase58))
		if err != nil {
			return nil, fmt.Errorf("%w: base58: %v", ErrMalformedKey, err)
		}
		return b, nil
	case m.PublicKeyHex != "":
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(m.PublicKeyHex), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: hex: %v", ErrMalformedKey, err)
		}
		return b, nil
	case m.PublicKeyMultibase != "":
		// Ed25519VerificationKey2020 carries a multicodec header; older
		// documents put the bare key behind the multibase prefix.
		if codec, key, err := did.DecodeMultikey(m.PublicKeyMultibase); err == nil && did.CodecName(codec) != "unknown" {
			return key, nil
		}
		_, b, err := multibase.Decode(m.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("%w: multibase: %v", ErrMalformedKey, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: no key material on %s", ErrMalformedKey, m.ID)
}

func multikeyMaterial(mb string) (string, []byte, error) {
	codec, key, err := did.DecodeMultikey(mb)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	name := did.CodecName(codec)
	if name == "unknown" {
		return "", nil, fmt.Errorf("%w: multicodec 0x%x", ErrUnsupportedScheme, codec)
	}
	return name, key, nil
}

func jwkMaterial(k *did.JWK) (string, []byte, error) {
	if k == nil {
		return "", nil, fmt.Errorf("%w: missing publicKeyJwk", ErrMalformedKey)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return "", nil, fmt.Errorf("%w: jwk x: %v", ErrMalformedKey, err)
	}
	switch {
	case k.Kty == "OKP" && k.Crv == "Ed25519":
		return SchemeEd25519, x, nil
	case k.Kty == "EC" && (k.Crv == "secp256k1" || k.Crv == "P-256"):
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil || len(x) != 32 || len(y) != 32 {
			return "", nil, fmt.Errorf("%w: jwk coordinates", ErrMalformedKey)
		}
		pub := append(append([]byte{0x04}, x...), y...)
		if k.Crv == "P-256" {
			return SchemeP256, pub, nil
		}
		return SchemeSecp256k1, pub, nil
	}
	return "", nil, fmt.Errorf("%w: jwk %s/%s", ErrUnsupportedScheme, k.Kty, k.Crv)
}

// Ed25519 verifies raw 64-byte signatures over the message itself.
type Ed25519 struct{}

func (Ed25519) Name() string { return SchemeEd25519 }

func (Ed25519) ParseKey(raw []byte) error {
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: ed25519 key length %d", ErrMalformedKey, len(raw))
	}
	return nil
}

func (s Ed25519) Verify(message, sig, pub []byte) (bool, error) {
	if err := s.ParseKey(pub); err != nil {
		return false, err
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: ed25519 signature length %d", ErrMalformedSignature, len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig), nil
}

// Secp256k1 verifies ECDSA signatures over the Keccak-256 digest of the
// message. Signatures are 64-byte compact R||S or DER.
type Secp256k1 struct{}

func (Secp256k1) Name() string { return SchemeSecp256k1 }

func (Secp256k1) ParseKey(raw []byte) error {
	if _, err := secp256k1.ParsePubKey(raw); err != nil {
		return fmt.Errorf("%w: secp256k1: %v", ErrMalformedKey, err)
	}
	return nil
}

func (Secp256k1) Verify(message, sig, pub []byte) (bool, error) {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false, fmt.Errorf("%w: secp256k1: %v", ErrMalformedKey, err)
	}
	parsed, err := parseSecp256k1Signature(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(Keccak256(message), key), nil
}

func parseSecp256k1Signature(sig []byte) (*secpecdsa.Signature, error) {
	if len(sig) == 64 {
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
			return nil, fmt.Errorf("%w: secp256k1 r out of range", ErrMalformedSignature)
		}
		if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
			return nil, fmt.Errorf("%w: secp256k1 s out of range", ErrMalformedSignature)
		}
		return secpecdsa.NewSignature(&r, &s), nil
	}
	parsed, err := secpecdsa.ParseDERSignature(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: secp256k1: %v", ErrMalformedSignature, err)
	}
	return parsed, nil
}

// P256 verifies ECDSA signatures over the SHA-256 digest of the message.
// Signatures are 64-byte raw R||S or DER.
type P256 struct{}

func (P256) Name() string { return SchemeP256 }

func (P256) ParseKey(raw []byte) error {
	_, err := parseP256Key(raw)
	return err
}

func (P256) Verify(message, sig, pub []byte) (bool, error) {
	key, err := parseP256Key(pub)
	if err != nil {
		return false, err
	}
	r, s, err := parseES256Signature(sig)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(message)
	return ecdsa.Verify(key, digest[:], r, s), nil
}

func parseP256Key(raw []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	var x, y *big.Int
	switch {
	case len(raw) == 33 && (raw[0] == 0x02 || raw[0] == 0x03):
		x, y = elliptic.UnmarshalCompressed(curve, raw)
	case len(raw) == 65 && raw[0] == 0x04:
		x = new(big.Int).SetBytes(raw[1:33])
		y = new(big.Int).SetBytes(raw[33:65])
		if !curve.IsOnCurve(x, y) {
			x, y = nil, nil
		}
	}
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: p256 key", ErrMalformedKey)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func parseES256Signature(sig []byte) (*big.Int, *big.Int, error) {
	if len(sig) == 64 {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		if r.Sign() <= 0 || s.Sign() <= 0 {
			return nil, nil, fmt.Errorf("%w: p256 r/s", ErrMalformedSignature)
		}
		return r, s, nil
	}
	var der struct {
		R *big.Int
		S *big.Int
	}
	rest, err := asn1.Unmarshal(sig, &der)
	if err != nil || len(rest) != 0 || der.R == nil || der.S == nil {
		return nil, nil, fmt.Errorf("%w: p256 der", ErrMalformedSignature)
	}
	if der.R.Sign() <= 0 || der.S.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: p256 r/s", ErrMalformedSignature)
	}
	return der.R, der.S, nil
}

// Keccak256 is the legacy (pre-NIST) Keccak digest.
func Keccak256(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return h.Sum(nil)
}
