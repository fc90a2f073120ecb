// Package sqlstore implements the persistent store on database/sql. Dialects
// supply the SQL differences between Postgres and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Schema holds idempotent DDL statements applied by Migrate.
	Schema []string
	// LockClause is appended to row reads that must take an exclusive lock.
	LockClause string
	// NumberedPlaceholders rewrites ? into $1, $2, ...
	NumberedPlaceholders bool
	// PrepareTx runs right after BEGIN, for example to set lock timeouts.
	PrepareTx func(ctx context.Context, tx *sql.Tx) error
	// Retryable reports lock timeouts, deadlocks and serialization failures.
	Retryable func(err error) bool
	// EncodeTime converts a timestamp into a driver argument.
	EncodeTime func(t time.Time) any
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) encodeTime(t time.Time) any {
	if d.EncodeTime == nil {
		return t.UTC()
	}
	return d.EncodeTime(t)
}

func (d Dialect) encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.encodeTime(*t)
}

// timeValue scans timestamps stored either natively or as unix microseconds.
type timeValue struct {
	Time  time.Time
	Valid bool
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.Time, v.Valid = time.Time{}, false
	case time.Time:
		v.Time, v.Valid = x.UTC(), true
	case int64:
		v.Time, v.Valid = time.UnixMicro(x).UTC(), true
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (v *timeValue) parse(raw string) error {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		v.Time, v.Valid = time.UnixMicro(n).UTC(), true
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	v.Time, v.Valid = t.UTC(), true
	return nil
}

func (v timeValue) ptr() *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
