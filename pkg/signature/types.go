package signature

import (
	"errors"
	"fmt"
	"sort"

	"github.com/accordsai/contractseal/pkg/did"
)

var (
	ErrUnsupportedScheme  = errors.New("unsupported signature scheme")
	ErrMalformedKey       = errors.New("malformed public key")
	ErrMalformedSignature = errors.New("malformed signature")
)

// Scheme tags recorded on domain.Signature.
const (
	SchemeEd25519   = "ed25519"
	SchemeSecp256k1 = "secp256k1"
	SchemeP256      = "p256"
)

// Scheme verifies signatures for one key algorithm. Verify returns false with
// a nil error for a well-formed signature that does not match.
type Scheme interface {
	Name() string
	ParseKey(raw []byte) error
	Verify(message, sig, pub []byte) (bool, error)
}

// Registry maps scheme tags to implementations and verification method
// types to scheme tags. Populate it before sharing; lookups are not guarded.
type Registry struct {
	schemes map[string]Scheme
	types   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{schemes: map[string]Scheme{}, types: map[string]string{}}
}

// DefaultRegistry knows Ed25519, secp256k1 and P-256 and the W3C method types
// that carry them.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Ed25519{})
	r.Register(Secp256k1{})
	r.Register(P256{})
	r.MapType(did.TypeEd25519VerificationKey2018, SchemeEd25519)
	r.MapType(did.TypeEd25519VerificationKey2020, SchemeEd25519)
	r.MapType(did.TypeEcdsaSecp256k1VerificationKey2019, SchemeSecp256k1)
	r.MapType(did.TypeEcdsaSecp256r1VerificationKey2019, SchemeP256)
	return r
}

func (r *Registry) Register(s Scheme) {
	r.schemes[s.Name()] = s
}

func (r *Registry) MapType(methodType, scheme string) {
	r.types[methodType] = scheme
}

func (r *Registry) Scheme(name string) (Scheme, bool) {
	s, ok := r.schemes[name]
	return s, ok
}

func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (Scheme, error) {
	s, ok := r.schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, name)
	}
	return s, nil
}
