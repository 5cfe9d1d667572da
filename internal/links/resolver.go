// Package links follows references between records held in a record store.
// Outgoing references come from the record envelope; incoming references are
// answered by the store's link index. Identifiers are filtered per entity kind
// before any fetch so that a relation holding mixed kinds only yields records
// of the requested kind.
package links

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"passcore/internal/logging"
	"passcore/pkg/domain"
)

// DefaultFetchConcurrency bounds parallel record reads when no limit is configured.
const DefaultFetchConcurrency = 8

// Patterns maps an entity type to the identifier predicate for that kind.
type Patterns map[domain.EntityType]*regexp.Regexp

// DefaultPatterns matches identifiers whose collection segment is the plural
// of the entity type, for example "deposits/ab/cd/abcd".
func DefaultPatterns() Patterns {
	out := make(Patterns, len(domain.EntityTypes()))
	for _, kind := range domain.EntityTypes() {
		out[kind] = regexp.MustCompile(`(^|/)` + regexp.QuoteMeta(kind.Plural()) + `/[^/].*$`)
	}
	return out
}

// CompilePatterns overlays string expressions on the default patterns.
func CompilePatterns(overrides map[string]string) (Patterns, error) {
	out := DefaultPatterns()
	for kind, expr := range overrides {
		et := domain.EntityType(kind)
		if _, ok := out[et]; !ok {
			return nil, fmt.Errorf("identifier pattern for unknown entity type %q", kind)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("identifier pattern for %s: %w", kind, err)
		}
		out[et] = re
	}
	return out, nil
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPatterns replaces the identifier predicates.
func WithPatterns(p Patterns) Option {
	return func(r *Resolver) {
		if len(p) > 0 {
			r.patterns = p
		}
	}
}

// WithConcurrency bounds parallel fetches in GetConnectedRecords.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger attaches a logger for trace output.
func WithLogger(l logr.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver retrieves linked identifiers and connected records.
type Resolver struct {
	store       domain.RecordStore
	patterns    Patterns
	concurrency int
	log         logr.Logger
}

// NewResolver constructs a resolver over store.
func NewResolver(store domain.RecordStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		patterns:    DefaultPatterns(),
		concurrency: DefaultFetchConcurrency,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Matches reports whether id is an identifier of the given kind.
func (r *Resolver) Matches(kind domain.EntityType, id string) bool {
	re, ok := r.patterns[kind]
	return ok && re.MatchString(id)
}

// RetrieveLinks returns the identifiers of records that reference id under
// relation, in the order the store reports them. An empty id or relation, or
// a relation with no references, yields an empty slice.
func (r *Resolver) RetrieveLinks(ctx context.Context, id, relation string) ([]string, error) {
	if id == "" || relation == "" {
		return []string{}, nil
	}
	incoming, err := r.store.IncomingLinks(ctx, id)
	if err != nil {
		return nil, &domain.LoadError{ID: id, Err: fmt.Errorf("incoming links: %w", err)}
	}
	refs := incoming[relation]
	r.log.V(logging.TRACE).Info("retrieved links", "id", id, "relation", relation, "count", len(refs))
	if len(refs) == 0 {
		return []string{}, nil
	}
	return append([]string(nil), refs...), nil
}

// GetConnectedRecords fetches the records of kind T among ids. Identifiers
// that do not match the kind's pattern are skipped. The result preserves the
// order of the matching identifiers. Any failed fetch, undecodable payload or
// kind mismatch fails the whole call with *domain.RecordLoadError.
func GetConnectedRecords[T domain.Entity](ctx context.Context, r *Resolver, ids []string) ([]T, error) {
	var zero T
	kind := zero.EntityType()

	matched := make([]string, 0, len(ids))
	for _, id := range ids {
		if r.Matches(kind, id) {
			matched = append(matched, id)
		}
	}
	if skipped := len(ids) - len(matched); skipped > 0 {
		r.log.V(logging.TRACE).Info("skipped identifiers of other kinds", "kind", kind, "skipped", skipped)
	}

	out := make([]T, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range matched {
		i, id := i, id
		g.Go(func() error {
			rec, err := r.store.Read(gctx, id)
			if err != nil {
				return &domain.RecordLoadError{ID: id, Kind: kind, Err: err}
			}
			entity, err := domain.DecodeRecord[T](rec)
			if err != nil {
				return &domain.RecordLoadError{ID: id, Kind: kind, Err: err}
			}
			out[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
