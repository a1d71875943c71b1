package did

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// MultiResolver dispatches to per-method resolvers. Register every method
// before the resolver is shared; the registry is not guarded.
type MultiResolver struct {
	resolvers map[string]MethodResolver
	cache     *Cache
	log       *logrus.Entry
}

func NewMultiResolver(cache *Cache, logger *logrus.Entry) *MultiResolver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MultiResolver{
		resolvers: make(map[string]MethodResolver),
		cache:     cache,
		log:       logger.WithField("component", "did-resolver"),
	}
}

func (r *MultiResolver) Register(method string, resolver MethodResolver) {
	r.resolvers[method] = resolver
}

// Methods lists the registered DID methods.
func (r *MultiResolver) Methods() []string {
	out := make([]string, 0, len(r.resolvers))
	for m := range r.resolvers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (r *MultiResolver) Cache() *Cache { return r.cache }

// Resolve returns the DID document for did, consulting the cache first.
func (r *MultiResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	if doc, ok := r.cache.Get(did); ok {
		r.log.WithField("did", did).Debug("did cache hit")
		return doc, nil
	}
	method, _, err := Parse(did)
	if err != nil {
		return nil, err
	}
	resolver, ok := r.resolvers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	doc, err := resolver.Resolve(ctx, did)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrResolutionFailed) {
			return nil, err
		}
		return nil, &ResolutionError{DID: did, Reason: method + " lookup", Err: err}
	}
	if doc == nil {
		return nil, &ResolutionError{DID: did, Reason: "empty document"}
	}
	if doc.ID == "" {
		doc.ID = did
	}
	if doc.ID != did {
		return nil, &ResolutionError{DID: did, Reason: fmt.Sprintf("document id mismatch: %s", doc.ID)}
	}
	r.cache.Put(did, doc)
	r.log.WithFields(logrus.Fields{"did": did, "methods": len(doc.VerificationMethods)}).Debug("did resolved")
	return doc.Clone(), nil
}
