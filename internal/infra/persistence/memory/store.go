// Package memory provides an in-memory implementation of the record store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"passcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.RecordStore = (*Store)(nil)

// edge is one (relation, source) entry of the incoming-link index.
type edge struct {
	relation string
	source   string
}

// Store keeps versioned records in maps guarded by a read/write mutex.
type Store struct {
	mu       sync.RWMutex
	records  map[string]domain.Record
	incoming map[string][]edge
	newVer   func() string
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]domain.Record),
		incoming: make(map[string][]edge),
		newVer:   newVersion,
	}
}

func newVersion() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Read returns a copy of the stored record.
func (s *Store) Read(ctx context.Context, id string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, domain.NotFoundError{ID: id}
	}
	return cloneRecord(rec), nil
}

// IncomingLinks returns the ids of records referencing id, grouped by relation
// in the order the references were first written.
func (s *Store) IncomingLinks(ctx context.Context, id string) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for _, e := range s.incoming[id] {
		out[e.relation] = append(out[e.relation], e.source)
	}
	return out, nil
}

// Write stores rec when expectedVersion matches the current version and
// returns the newly assigned version.
func (s *Store) Write(ctx context.Context, rec domain.Record, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", fmt.Errorf("write record: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.ID]
	switch {
	case expectedVersion == "" && exists:
		return "", &domain.ConflictError{ID: rec.ID, Actual: existing.Version}
	case expectedVersion != "" && !exists:
		return "", &domain.ConflictError{ID: rec.ID, Expected: expectedVersion}
	case exists && existing.Version != expectedVersion:
		return "", &domain.ConflictError{ID: rec.ID, Expected: expectedVersion, Actual: existing.Version}
	}

	stored := cloneRecord(rec)
	stored.Version = s.newVer()
	s.reindex(rec.ID, existing.Links, stored.Links)
	s.records[rec.ID] = stored
	return stored.Version, nil
}

// reindex updates the incoming-link index for source. References that survive
// the write keep their position.
func (s *Store) reindex(source string, before, after map[string][]string) {
	for relation, targets := range before {
		for _, target := range targets {
			if containsLink(after, relation, target) {
				continue
			}
			edges := s.incoming[target]
			kept := edges[:0]
			for _, e := range edges {
				if e.relation == relation && e.source == source {
					continue
				}
				kept = append(kept, e)
			}
			if len(kept) == 0 {
				delete(s.incoming, target)
				continue
			}
			s.incoming[target] = kept
		}
	}
	for _, relation := range domain.SortedRelations(after) {
		for _, target := range after[relation] {
			if containsLink(before, relation, target) || hasEdge(s.incoming[target], relation, source) {
				continue
			}
			s.incoming[target] = append(s.incoming[target], edge{relation: relation, source: source})
		}
	}
}

func containsLink(links map[string][]string, relation, target string) bool {
	for _, t := range links[relation] {
		if t == target {
			return true
		}
	}
	return false
}

func hasEdge(edges []edge, relation, source string) bool {
	for _, e := range edges {
		if e.relation == relation && e.source == source {
			return true
		}
	}
	return false
}

func cloneRecord(rec domain.Record) domain.Record {
	cp := rec
	cp.Links = domain.CloneLinks(rec.Links)
	cp.Payload = append([]byte(nil), rec.Payload...)
	return cp
}
