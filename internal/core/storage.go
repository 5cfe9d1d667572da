package core

import (
	"context"
	"fmt"

	"passcore/internal/infra/persistence/memory"
	"passcore/internal/infra/persistence/postgres"
	"passcore/internal/infra/persistence/sqlite"
	"passcore/pkg/domain"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterizes the record store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlitePath"`
	PostgresDSN string        `yaml:"postgresDSN"`
}

// RecordStore is a domain.RecordStore that owns resources released by Close.
type RecordStore interface {
	domain.RecordStore
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// OpenRecordStore opens the store named by cfg.Driver, defaulting to sqlite.
func OpenRecordStore(ctx context.Context, cfg StorageConfig) (RecordStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memoryStore{memory.NewStore()}, nil
	case StorageSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = sqlite.DefaultPath
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
