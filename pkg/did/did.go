// Package did resolves decentralized identifiers to DID documents.
//
// A MultiResolver dispatches on the method segment of did:<method>:<id> to a
// registered MethodResolver and keeps a TTL cache of resolved documents.
package did

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidFormat     = errors.New("did: invalid format")
	ErrUnsupportedMethod = errors.New("did: unsupported method")
	ErrResolutionFailed  = errors.New("did: resolution failed")
	ErrNotFound          = errors.New("did: not found")
	ErrDeactivated       = errors.New("did: deactivated")
	ErrMethodNotFound    = errors.New("did: verification method not found")
)

// Verification method types understood by pkg/signature.
const (
	TypeEd25519VerificationKey2018        = "Ed25519VerificationKey2018"
	TypeEd25519VerificationKey2020        = "Ed25519VerificationKey2020"
	TypeEcdsaSecp256k1VerificationKey2019 = "EcdsaSecp256k1VerificationKey2019"
	TypeEcdsaSecp256r1VerificationKey2019 = "EcdsaSecp256r1VerificationKey2019"
	TypeJSONWebKey2020                    = "JsonWebKey2020"
	TypeMultikey                          = "Multikey"
)

// MethodResolver resolves DIDs of a single method.
type MethodResolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// ResolverFunc adapts a function to MethodResolver.
type ResolverFunc func(ctx context.Context, did string) (*Document, error)

func (f ResolverFunc) Resolve(ctx context.Context, did string) (*Document, error) {
	return f(ctx, did)
}

type Document struct {
	ID                  string               `json:"id" yaml:"id"`
	Controller          []string             `json:"controller,omitempty" yaml:"controller,omitempty"`
	VerificationMethods []VerificationMethod `json:"verificationMethod" yaml:"verification_methods"`
	Authentication      []string             `json:"authentication,omitempty" yaml:"authentication,omitempty"`
	AssertionMethod     []string             `json:"assertionMethod,omitempty" yaml:"assertion_method,omitempty"`
	Updated             time.Time            `json:"updated,omitempty" yaml:"updated,omitempty"`
}

type VerificationMethod struct {
	ID                 string `json:"id" yaml:"id"`
	Type               string `json:"type" yaml:"type"`
	Controller         string `json:"controller,omitempty" yaml:"controller,omitempty"`
	PublicKeyBase58    string `json:"publicKeyBase58,omitempty" yaml:"public_key_base58,omitempty"`
	PublicKeyHex       string `json:"publicKeyHex,omitempty" yaml:"public_key_hex,omitempty"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty" yaml:"public_key_multibase,omitempty"`
	PublicKeyJwk       *JWK   `json:"publicKeyJwk,omitempty" yaml:"public_key_jwk,omitempty"`
}

// JWK carries the public parts of an EC or OKP JSON Web Key.
type JWK struct {
	Kty string `json:"kty" yaml:"kty"`
	Crv string `json:"crv" yaml:"crv"`
	X   string `json:"x" yaml:"x"`
	Y   string `json:"y,omitempty" yaml:"y,omitempty"`
}

// ResolutionError reports a failed lookup. It matches both
// ErrResolutionFailed and the underlying cause under errors.Is.
type ResolutionError struct {
	DID    string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("did: resolve %s: %s: %v", e.DID, e.Reason, e.Err)
	}
	return fmt.Sprintf("did: resolve %s: %s", e.DID, e.Reason)
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResolutionFailed}
	}
	return []error{ErrResolutionFailed, e.Err}
}

// Parse splits did:<method>:<id>.
func Parse(did string) (method, id string, err error) {
	parts := strings.SplitN(strings.TrimSpace(did), ":", 3)
	if len(parts) != 3 || parts[0] != "did" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFormat, did)
	}
	method, id = parts[1], parts[2]
	if method == "" || id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFormat, did)
	}
	for _, c := range method {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return "", "", fmt.Errorf("%w: method %q", ErrInvalidFormat, method)
		}
	}
	return method, id, nil
}

// FindMethod looks up a verification method by absolute ("did:x:y#k") or
// relative ("#k") id.
func (d *Document) FindMethod(id string) (VerificationMethod, error) {
	want := d.absolute(strings.TrimSpace(id))
	for _, m := range d.VerificationMethods {
		if d.absolute(m.ID) == want {
			return m, nil
		}
	}
	return VerificationMethod{}, fmt.Errorf("%w: %s", ErrMethodNotFound, id)
}

func (d *Document) absolute(id string) string {
	if strings.HasPrefix(id, "#") {
		return d.ID + id
	}
	return id
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Controller = append([]string(nil), d.Controller...)
	out.Authentication = append([]string(nil), d.Authentication...)
	out.AssertionMethod = append([]string(nil), d.AssertionMethod...)
	out.VerificationMethods = make([]VerificationMethod, len(d.VerificationMethods))
	for i, m := range d.VerificationMethods {
		if m.PublicKeyJwk != nil {
			jwk := *m.PublicKeyJwk
			m.PublicKeyJwk = &jwk
		}
		out.VerificationMethods[i] = m
	}
	return &out
}
