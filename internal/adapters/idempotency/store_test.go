package idempotency

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	if rec, err := store.Reserve(ctx, "k"); err != nil || rec != nil {
		t.Fatalf("first reserve: %v %v", rec, err)
	}
	if _, err := store.Reserve(ctx, "k"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if err := store.Save(ctx, "k", Record{Status: 201, Body: []byte("ok")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := store.Reserve(ctx, "k")
	if err != nil || rec == nil || rec.Status != 201 || string(rec.Body) != "ok" {
		t.Fatalf("replay: %+v %v", rec, err)
	}
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, err := store.Reserve(ctx, "k"); err != nil || rec != nil {
		t.Fatalf("reserve after release: %v %v", rec, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	_, _ = store.Reserve(ctx, "k")
	_ = store.Save(ctx, "k", Record{Status: 200})
	now = now.Add(2 * time.Minute)
	if rec, err := store.Reserve(ctx, "k"); err != nil || rec != nil {
		t.Fatalf("expired key should be claimable: %v %v", rec, err)
	}
}

func TestMiddlewareReplaysSuccess(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore(time.Hour), nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{}"))
		req.Header.Set(Header, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated || rec.Body.String() != `{"id":1}` {
			t.Fatalf("attempt %d: %d %s", i, rec.Code, rec.Body.String())
		}
		if i == 1 && rec.Header().Get(ReplayHeader) != "true" {
			t.Fatalf("second response should be a replay")
		}
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls int32
	var seen []string
	handler := Middleware(NewMemoryStore(time.Hour), nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
		req.Header.Set(Header, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	if rec := send(`{"customer":"acme"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := send(`{"customer":"globex"}`)
	if rec.Code != http.StatusUnprocessableEntity || rec.Header().Get(ReplayHeader) != "" || !strings.Contains(rec.Body.String(), "different request body") {
		t.Fatalf("expected 422 for a reused key, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := send(`{"customer":"acme"}`); rec.Code != http.StatusCreated || rec.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("same body should still replay, got %d", rec.Code)
	}
	if calls != 1 || len(seen) != 1 || seen[0] != `{"customer":"acme"}` {
		t.Fatalf("handler should run once with the full body, got %d %v", calls, seen)
	}
}

func TestMiddlewareReleasesFailures(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore(time.Hour), nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.Header.Set(Header, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("failed responses must not be replayed, handler ran %d times", calls)
	}
}

func TestMiddlewareRejectsInFlight(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	if _, err := store.Reserve(context.Background(), "POST /api/orders abc"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	handler := Middleware(store, nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run while the key is held")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set(Header, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMiddlewarePassesWithoutKey(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore(time.Hour), nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/orders", nil))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to run, got %d", calls)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STOCKCORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STOCKCORE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	key := "test-" + uuid.NewString()
	defer store.Release(ctx, key)
	if rec, err := store.Reserve(ctx, key); err != nil || rec != nil {
		t.Fatalf("reserve: %v %v", rec, err)
	}
	if _, err := store.Reserve(ctx, key); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if err := store.Save(ctx, key, Record{Status: 201, Body: []byte("ok")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := store.Reserve(ctx, key)
	if err != nil || rec == nil || rec.Status != 201 {
		t.Fatalf("replay: %+v %v", rec, err)
	}
}
