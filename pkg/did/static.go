package did

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticResolver serves documents registered in memory or loaded from a
// fixture file. It backs did:example in development and tests.
type StaticResolver struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewStaticResolver(docs ...*Document) *StaticResolver {
	s := &StaticResolver{docs: make(map[string]*Document)}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

func (s *StaticResolver) Put(doc *Document) {
	if doc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
}

func (s *StaticResolver) Delete(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, did)
}

func (s *StaticResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[did]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// DIDs lists the documents held, grouped by method.
func (s *StaticResolver) DIDs() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for id := range s.docs {
		method, _, err := Parse(id)
		if err != nil {
			continue
		}
		out[method] = append(out[method], id)
	}
	return out
}

type fixtureFile struct {
	Documents []*Document `yaml:"documents"`
}

// LoadFixtures reads a YAML file of the form
//
//	documents:
//	  - id: did:example:alice
//	    verification_methods:
//	      - id: did:example:alice#keys-1
//	        type: Ed25519VerificationKey2018
//	        public_key_base58: ...
func LoadFixtures(path string) (*StaticResolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("did fixtures: %w", err)
	}
	return ParseFixtures(b)
}

func ParseFixtures(b []byte) (*StaticResolver, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("did fixtures: %w", err)
	}
	s := NewStaticResolver()
	for i, d := range f.Documents {
		if d == nil {
			continue
		}
		if _, _, err := Parse(d.ID); err != nil {
			return nil, fmt.Errorf("did fixtures: document %d: %w", i, err)
		}
		s.Put(d)
	}
	return s, nil
}
