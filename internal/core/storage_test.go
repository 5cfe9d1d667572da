package core

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"passcore/internal/infra/persistence/postgres"
	"passcore/internal/infra/persistence/postgres/testutil"
)

func TestOpenRecordStoreMemory(t *testing.T) {
	store, err := OpenRecordStore(context.Background(), StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer func() { _ = store.Close() }()
	seed(t, store, submission(subID, false, ""))
	if _, err := store.Read(context.Background(), subID); err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestOpenRecordStoreSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	store, err := OpenRecordStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	seed(t, store, submission(subID, false, ""))
	got, err := NewStatusService(store, nil).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update through sqlite: %v", err)
	}
	if got != "manuscript-required" {
		t.Fatalf("unexpected status %s", got)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenRecordStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if status := loadSubmission(t, reopened, subID).SubmissionStatus; status != "manuscript-required" {
		t.Fatalf("status not persisted: %s", status)
	}
}

func TestOpenRecordStorePostgresOpenFailure(t *testing.T) {
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("dial refused")
	})
	defer restore()

	_, err := OpenRecordStore(context.Background(), StorageConfig{Driver: StoragePostgres, PostgresDSN: "postgres://example/db"})
	if err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("expected open failure, got %v", err)
	}
}

func TestOpenRecordStorePostgres(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	var gotDSN string
	restore := postgres.OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return db, nil
	})
	defer restore()

	store, err := OpenRecordStore(ctx, StorageConfig{Driver: StoragePostgres, PostgresDSN: "postgres://example/db"})
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if gotDSN != "postgres://example/db" {
		t.Fatalf("unexpected dsn %q", gotDSN)
	}

	seed(t, store,
		submission(subID, true, "", repo1),
		deposit("deposits/d1", repo1, "accepted"),
		repoCopy("repositoryCopies/c1", repo1, "complete"),
	)
	got, err := NewStatusService(store, nil).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update through postgres: %v", err)
	}
	if got != "complete" {
		t.Fatalf("unexpected status %s", got)
	}
	row, ok := conn.Record(subID)
	if !ok || !strings.Contains(row.Payload, `"submissionStatus":"complete"`) {
		t.Fatalf("status not persisted: %+v", row)
	}
}

func TestOpenRecordStoreUnknownDriver(t *testing.T) {
	_, err := OpenRecordStore(context.Background(), StorageConfig{Driver: "cassandra"})
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
