// Package history archives submission status changes. Each persisted change
// becomes one immutable JSON document in a blob store, keyed so that a
// submission's entries list in the order they were recorded.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"passcore/internal/blob"
	"passcore/pkg/domain"
)

const contentType = "application/json"

// Entry is one recorded status change.
type Entry struct {
	ID           string        `json:"id"`
	SubmissionID string        `json:"submissionId"`
	From         domain.Status `json:"from,omitempty"`
	To           domain.Status `json:"to"`
	Submitted    bool          `json:"submitted"`
	Override     bool          `json:"override,omitempty"`
	Version      string        `json:"version,omitempty"`
	RecordedAt   time.Time     `json:"recordedAt"`
}

// Recorder persists status change entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(_ context.Context, entry Entry) (Entry, error) { return entry, nil }

// BlobRecorder writes entries to a blob store.
type BlobRecorder struct {
	store blob.Store
	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// NewBlobRecorder returns a recorder writing to store.
func NewBlobRecorder(store blob.Store) *BlobRecorder {
	return &BlobRecorder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewV7,
	}
}

// Prefix returns the key prefix under which a submission's entries live.
func Prefix(submissionID string) string {
	return "submissions/" + url.PathEscape(submissionID) + "/history/"
}

// Record assigns an id and timestamp when missing and stores the entry.
func (r *BlobRecorder) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.SubmissionID == "" {
		return entry, fmt.Errorf("history entry: missing submission id")
	}
	if entry.ID == "" {
		id, err := r.newID()
		if err != nil {
			return entry, fmt.Errorf("history entry id: %w", err)
		}
		entry.ID = id.String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = r.now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("encode history entry: %w", err)
	}
	key := Prefix(entry.SubmissionID) + entry.ID + ".json"
	_, err = r.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"from": string(entry.From),
			"to":   string(entry.To),
		},
	})
	if err != nil {
		return entry, fmt.Errorf("store history entry %s: %w", key, err)
	}
	return entry, nil
}

// List returns the entries recorded for a submission, oldest first.
func (r *BlobRecorder) List(ctx context.Context, submissionID string) ([]Entry, error) {
	infos, err := r.store.List(ctx, Prefix(submissionID))
	if err != nil {
		return nil, fmt.Errorf("list history of %s: %w", submissionID, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		entry, err := r.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *BlobRecorder) read(ctx context.Context, key string) (Entry, error) {
	_, rc, err := r.store.Get(ctx, key)
	if err != nil {
		return Entry{}, fmt.Errorf("read history entry %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, fmt.Errorf("read history entry %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode history entry %s: %w", key, err)
	}
	return entry, nil
}
