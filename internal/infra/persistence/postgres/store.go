// Package postgres provides the Postgres-backed persistent store. Stock and
// order rows are locked with SELECT ... FOR UPDATE and waits are bounded by
// lock_timeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"stockcore/internal/infra/persistence/sqlstore"
	"stockcore/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/stockcore?sslmode=disable"
)

// SQLSTATE codes surfaced as retryable failures.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS warehouses (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12, 2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stocks (
		product_id BIGINT NOT NULL REFERENCES products(id),
		warehouse_id BIGINT NOT NULL REFERENCES warehouses(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		seeded INTEGER NOT NULL,
		PRIMARY KEY (product_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		customer VARCHAR(255) NOT NULL,
		warehouse_id BIGINT NOT NULL REFERENCES warehouses(id),
		status TEXT NOT NULL CHECK (status IN ('active', 'canceled', 'completed')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0)
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_id_idx ON order_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL,
		warehouse_id BIGINT NOT NULL,
		order_id BIGINT,
		quantity_change INTEGER NOT NULL,
		type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_created_at_idx ON stock_movements (created_at)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_key_idx ON stock_movements (product_id, warehouse_id)`,
}

// Dialect returns the Postgres dialect. lockTimeout of zero leaves the server
// default in place.
func Dialect(lockTimeout time.Duration) sqlstore.Dialect {
	d := sqlstore.Dialect{
		Name:                 "postgres",
		Schema:               schema,
		LockClause:           " FOR UPDATE",
		NumberedPlaceholders: true,
		Retryable:            IsRetryable,
		EncodeTime:           func(t time.Time) any { return t.UTC() },
	}
	if lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		d.PrepareTx = func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		}
	}
	return d
}

// IsRetryable reports lock timeouts, deadlocks and serialization failures.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return true
	}
	return false
}

// Store persists state to Postgres.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and applies the schema.
func NewStore(ctx context.Context, dsn string, lockTimeout time.Duration, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqlstore.New(db, Dialect(lockTimeout), engine)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store}, nil
}
