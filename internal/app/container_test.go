package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"stockcore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageDriver:  "memory",
		LockTimeout:    time.Second,
		Seed:           true,
		BlobDriver:     "memory",
		ExportPrefix:   config.DefaultExportPrefix,
		IdempotencyTTL: time.Hour,
	}
}

func TestContainerServesSeededCatalog(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	var logs bytes.Buffer
	c, err := NewContainer(context.Background(), testConfig(t), &logs)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Shutdown(context.Background())

	for path, want := range map[string]string{
		"/healthz":                  `"ok"`,
		"/api/warehouses":           "Warehouse 1",
		"/api/products-with-stocks": "Product A",
	} {
		rec := httptest.NewRecorder()
		c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
	}
	if !strings.Contains(logs.String(), "container ready") {
		t.Fatalf("expected startup log line, got %s", logs.String())
	}
}

func TestContainerUsesSQLiteAndFilesystemBlobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "stock.db")
	cfg.BlobDriver = "fs"
	cfg.BlobRoot = t.TempDir()
	c, err := NewContainer(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Shutdown(context.Background())
	if c.Blobs().Driver() != "fs" {
		t.Fatalf("expected fs blobs, got %s", c.Blobs().Driver())
	}
	warehouses, err := c.Service().ListWarehouses(context.Background())
	if err != nil || len(warehouses) != 3 {
		t.Fatalf("seeded warehouses: %v %d", err, len(warehouses))
	}
}

func TestContainerRejectsUnknownStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = "oracle"
	if _, err := NewContainer(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}
}
