package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"passcore/internal/history"
	"passcore/internal/infra/persistence/memory"
	"passcore/pkg/domain"
)

const (
	subID  = "submissions/s1"
	pubID  = "publications/p1"
	repo1  = "repositories/r1"
	repo2  = "repositories/r2"
	grant1 = "grants/g1"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store domain.RecordStore, entities ...domain.Entity) {
	t.Helper()
	for _, e := range entities {
		rec, err := domain.EncodeRecord(e)
		if err != nil {
			t.Fatalf("encode %s: %v", e.EntityID(), err)
		}
		if _, err := store.Write(context.Background(), rec, ""); err != nil {
			t.Fatalf("seed %s: %v", e.EntityID(), err)
		}
	}
}

func loadSubmission(t *testing.T, store domain.RecordStore, id string) domain.Submission {
	t.Helper()
	rec, err := store.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("read %s: %v", id, err)
	}
	sub, err := domain.DecodeRecord[domain.Submission](rec)
	if err != nil {
		t.Fatalf("decode %s: %v", id, err)
	}
	return sub
}

func submission(id string, submitted bool, current domain.Status, repos ...string) domain.Submission {
	return domain.Submission{
		Base:             domain.Base{ID: id, CreatedAt: baseTime},
		Submitted:        submitted,
		SubmissionStatus: current,
		Publication:      pubID,
		Repositories:     repos,
		Grants:           []string{grant1},
	}
}

func event(id, kind string, offset time.Duration) domain.SubmissionEvent {
	return domain.SubmissionEvent{
		Base:          domain.Base{ID: id},
		Submission:    subID,
		EventType:     kind,
		PerformedDate: baseTime.Add(offset),
		PerformedBy:   "users/u1",
	}
}

func deposit(id, repo, status string) domain.Deposit {
	return domain.Deposit{Base: domain.Base{ID: id}, Submission: subID, Repository: repo, DepositStatus: status}
}

func repoCopy(id, repo, status string) domain.RepositoryCopy {
	return domain.RepositoryCopy{Base: domain.Base{ID: id}, Publication: pubID, Repository: repo, CopyStatus: status}
}

// countingStore counts writes and can fail reads or race a concurrent writer.
type countingStore struct {
	*memory.Store
	mu       sync.Mutex
	writes   int
	readErr  error
	raceOnce bool
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.NewStore()}
}

func (s *countingStore) Read(ctx context.Context, id string) (domain.Record, error) {
	if s.readErr != nil {
		return domain.Record{}, s.readErr
	}
	return s.Store.Read(ctx, id)
}

func (s *countingStore) Write(ctx context.Context, rec domain.Record, expectedVersion string) (string, error) {
	s.mu.Lock()
	race := s.raceOnce
	s.raceOnce = false
	s.mu.Unlock()
	if race {
		current, err := s.Store.Read(ctx, rec.ID)
		if err != nil {
			return "", err
		}
		if _, err := s.Store.Write(ctx, current, current.Version); err != nil {
			return "", err
		}
	}
	version, err := s.Store.Write(ctx, rec, expectedVersion)
	if err == nil {
		s.mu.Lock()
		s.writes++
		s.mu.Unlock()
	}
	return version, err
}

func (s *countingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type captureHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	err     error
}

func (c *captureHistory) Record(_ context.Context, entry history.Entry) (history.Entry, error) {
	if c.err != nil {
		return history.Entry{}, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return entry, nil
}

func brokenRecord(id string, kind domain.EntityType, links map[string][]string) domain.Record {
	return domain.Record{ID: id, Kind: kind, Links: links, Payload: json.RawMessage(`{"id": 42}`)}
}

var errBackend = errors.New("backend unavailable")
