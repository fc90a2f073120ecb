package core

import (
	"context"
	"fmt"
	"time"

	"stockcore/internal/infra/persistence/memory"
	"stockcore/internal/infra/persistence/postgres"
	"stockcore/internal/infra/persistence/sqlite"
	"stockcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	LockTimeout time.Duration
}

// OpenPersistentStore opens the backend named by opts. An empty driver means
// sqlite and a zero lock timeout means DefaultLockTimeout.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, memory.WithLockTimeout(timeout)), nil
	case StorageSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = "stockcore.db"
		}
		return sqlite.NewStore(ctx, path, timeout, engine)
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN, timeout, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
