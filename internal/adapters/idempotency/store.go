// Package idempotency replays stored responses for repeated requests that
// carry the same Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrInFlight is returned by Reserve while another request holds the key.
var ErrInFlight = errors.New("idempotency key in use")

// Record is a captured response. RequestHash fingerprints the request body
// the response was produced for.
type Record struct {
	RequestHash string    `json:"request_hash,omitempty"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store claims keys and keeps completed responses until they expire.
type Store interface {
	// Reserve claims key. A non-nil record means the key already completed.
	Reserve(ctx context.Context, key string) (*Record, error)
	// Save stores the response and releases the claim.
	Save(ctx context.Context, key string, rec Record) error
	// Release drops the claim without storing anything.
	Release(ctx context.Context, key string) error
}

type entry struct {
	rec     *Record
	expires time.Time
}

// MemoryStore keeps keys in process.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store whose records live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.rec == nil {
			return nil, ErrInFlight
		}
		rec := *e.rec
		return &rec, nil
	}
	s.entries[key] = entry{expires: now.Add(s.ttl)}
	return nil, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{rec: &rec, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Header is the request header that carries the key.
const Header = "Idempotency-Key"

// ReplayHeader marks a response served from the store.
const ReplayHeader = "Idempotent-Replayed"

// Logger is the subset of the service logger the middleware needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Middleware serves stored responses for repeated keys. Only 2xx responses
// are stored; anything else releases the key so the client can retry. A key
// reused with a different body is rejected with 422.
func Middleware(store Store, logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(Header)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])

			key := r.Method + " " + r.URL.Path + " " + raw
			rec, err := store.Reserve(r.Context(), key)
			switch {
			case errors.Is(err, ErrInFlight):
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			case err != nil:
				logger.Warn("idempotency store unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			case rec != nil && rec.RequestHash != "" && rec.RequestHash != hash:
				writeError(w, http.StatusUnprocessableEntity, "idempotency key was already used with a different request body")
				return
			case rec != nil:
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			capture := &recorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if completed {
					return
				}
				// Panics and non-2xx responses free the key.
				if err := store.Release(context.WithoutCancel(r.Context()), key); err != nil {
					logger.Warn("release idempotency key failed", "error", err)
				}
			}()
			next.ServeHTTP(capture, r)
			if capture.status < 200 || capture.status > 299 {
				return
			}
			err = store.Save(context.WithoutCancel(r.Context()), key, Record{
				RequestHash: hash,
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body,
				StoredAt:    time.Now().UTC(),
			})
			if err != nil {
				logger.Warn("store idempotent response failed", "error", err)
				return
			}
			completed = true
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        []byte
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}
