package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is the storage envelope for one entity. Payload holds the JSON
// encoding of the entity; Links lists its outgoing references by relation so
// stores can answer incoming-link queries without understanding payloads.
type Record struct {
	ID      string              `json:"id"`
	Kind    EntityType          `json:"kind"`
	Version string              `json:"version,omitempty"`
	Links   map[string][]string `json:"links,omitempty"`
	Payload json.RawMessage     `json:"payload"`
}

// RecordStore is the collaborator the status engine reads from and writes
// through. Implementations live under internal/infra/persistence.
//
// Write applies optimistic concurrency: expectedVersion must equal the
// version currently stored, or be empty when creating a record that does not
// exist yet. A stale token fails with *ConflictError.
type RecordStore interface {
	Read(ctx context.Context, id string) (Record, error)
	IncomingLinks(ctx context.Context, id string) (map[string][]string, error)
	Write(ctx context.Context, rec Record, expectedVersion string) (string, error)
}

// EncodeRecord converts an entity into a storage envelope. The envelope
// version is taken from the entity and is informational only; stores assign
// the next version on write.
func EncodeRecord(e Entity) (Record, error) {
	if e == nil {
		return Record{}, fmt.Errorf("encode record: nil entity")
	}
	if e.EntityID() == "" {
		return Record{}, fmt.Errorf("encode %s: missing id", e.EntityType())
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	return Record{
		ID:      e.EntityID(),
		Kind:    e.EntityType(),
		Version: e.EntityVersion(),
		Links:   CloneLinks(e.Links()),
		Payload: payload,
	}, nil
}

// DecodeRecord decodes a record payload into T and stamps the record version.
func DecodeRecord[T Entity](rec Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", rec.Kind, rec.ID, err)
	}
	if want := out.EntityType(); rec.Kind != want {
		return out, fmt.Errorf("decode %s: record kind %s is not %s", rec.ID, rec.Kind, want)
	}
	return withVersion(out, rec.ID, rec.Version), nil
}

// withVersion sets the identity fields that live outside the payload.
func withVersion[T Entity](e T, id, version string) T {
	switch v := any(&e).(type) {
	case *Submission:
		v.ID, v.Version = pick(v.ID, id), version
	case *Publication:
		v.ID, v.Version = pick(v.ID, id), version
	case *Repository:
		v.ID, v.Version = pick(v.ID, id), version
	case *Grant:
		v.ID, v.Version = pick(v.ID, id), version
	case *Deposit:
		v.ID, v.Version = pick(v.ID, id), version
	case *RepositoryCopy:
		v.ID, v.Version = pick(v.ID, id), version
	case *SubmissionEvent:
		v.ID, v.Version = pick(v.ID, id), version
	}
	return e
}

func pick(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

// CloneLinks deep-copies a relation map, dropping empty relations.
func CloneLinks(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for relation, targets := range in {
		if len(targets) == 0 {
			continue
		}
		out[relation] = append([]string(nil), targets...)
	}
	return out
}

// SortedRelations returns the relation keys of a link map in lexical order.
func SortedRelations(links map[string][]string) []string {
	keys := make([]string, 0, len(links))
	for k := range links {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
