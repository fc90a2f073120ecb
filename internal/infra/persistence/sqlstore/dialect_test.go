package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stockcore/pkg/domain"
)

func TestRebindNumbersPlaceholders(t *testing.T) {
	d := Dialect{NumberedPlaceholders: true}
	got := d.rebind(`SELECT 1 FROM stocks WHERE product_id = ? AND warehouse_id = ?`)
	want := `SELECT 1 FROM stocks WHERE product_id = $1 AND warehouse_id = $2`
	if got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}
	plain := Dialect{}
	if plain.rebind("a = ?") != "a = ?" {
		t.Fatalf("expected question marks untouched")
	}
}

func TestTimeValueScan(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 30, 0, 123000, time.UTC)
	cases := []any{ref, ref.UnixMicro(), ref.Format(time.RFC3339Nano), []byte(ref.Format(time.RFC3339Nano))}
	for _, src := range cases {
		var v timeValue
		if err := v.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if !v.Valid || !v.Time.Equal(ref) {
			t.Fatalf("scan %T: expected %v, got %v", src, ref, v.Time)
		}
	}
	var null timeValue
	if err := null.Scan(nil); err != nil || null.ptr() != nil {
		t.Fatalf("expected null timestamp")
	}
	if err := null.Scan(3.5); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestWrapClassifiesRetryable(t *testing.T) {
	busy := errors.New("busy")
	s := New(nil, Dialect{Retryable: func(err error) bool { return errors.Is(err, busy) }}, nil)
	if err := s.wrap("lock", busy); !domain.IsRetryable(err) {
		t.Fatalf("expected retryable, got %v", err)
	}
	if err := s.wrap("lock", errors.New("other")); domain.IsRetryable(err) {
		t.Fatalf("expected generic error, got %v", err)
	}
	deadline := fmt.Errorf("wait for connection: %w", context.DeadlineExceeded)
	if err := s.wrap("begin", deadline); !domain.IsRetryable(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected expired deadline to be retryable, got %v", err)
	}
	if err := s.wrap("begin", context.Canceled); domain.IsRetryable(err) {
		t.Fatalf("expected cancellation to stay generic, got %v", err)
	}
	if s.wrap("noop", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestLimitClause(t *testing.T) {
	if clause, args := limitClause(domain.Page{}); clause != "" || args != nil {
		t.Fatalf("expected no limit for unsized page")
	}
	clause, args := limitClause(domain.Page{Number: 3, Size: 15})
	if clause != " LIMIT ? OFFSET ?" || args[0] != 15 || args[1] != 30 {
		t.Fatalf("unexpected limit clause %q %v", clause, args)
	}
}
