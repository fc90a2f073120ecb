package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stockcore/internal/infra/persistence/storetest"
	"stockcore/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "stock.db")
	store, err := NewStore(context.Background(), path, time.Second, nil)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.PersistentStore {
		return newTestStore(t)
	})
}

func TestNewStoreCreatesDirectoriesAndReopens(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.SeedCatalog(ctx, storetest.Catalog()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewStore(ctx, path, time.Second, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	rec, ok, err := reopened.GetStock(ctx, storetest.KeyHot)
	if err != nil || !ok || rec.Quantity != 10 {
		t.Fatalf("expected persisted stock, got %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "x.db"), 0, nil); err == nil || !strings.Contains(err.Error(), "open sqlite") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/a.db", 0)
	for _, want := range []string{"file:/tmp/a.db", "_txlock=immediate", "busy_timeout(5000)", "foreign_keys(1)"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestIsBusyIgnoresOtherErrors(t *testing.T) {
	if isBusy(errors.New("database is locked")) {
		t.Fatalf("plain errors are not classified as busy")
	}
}

func TestCheckConstraintRejectsNegativeStock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() { _ = store.Close() }()
	if err := store.SeedCatalog(ctx, storetest.Catalog()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, _, err := tx.LockStock(storetest.KeyCold); err != nil {
			return err
		}
		_, err := tx.AdjustStock(storetest.KeyCold, -5)
		return err
	})
	if err == nil {
		t.Fatalf("expected check constraint failure")
	}
	rec, _, _ := store.GetStock(ctx, storetest.KeyCold)
	if rec.Quantity != 4 {
		t.Fatalf("expected stock untouched, got %d", rec.Quantity)
	}
}
