package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stockcore/pkg/domain"
)

// lockTable hands out exclusive per-key locks. Each key owns a one-slot
// channel; holding the slot is holding the lock.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (l *lockTable) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

// acquire blocks until the lock is free, ctx is done or timeout elapses.
// A zero timeout waits on ctx only.
func (l *lockTable) acquire(ctx context.Context, name string, timeout time.Duration) error {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return contextError("acquire "+name, ctx.Err())
	case <-expired:
		return domain.TransientError{Op: "acquire " + name, Err: domain.ErrLockTimeout}
	}
}

// contextError marks a deadline that expired mid-transaction as retryable.
// Cancellation stays a plain error.
func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (l *lockTable) release(name string) {
	select {
	case <-l.slot(name):
	default:
		panic("memory store: release of unheld lock " + name)
	}
}

func stockLockName(key domain.StockKey) string { return "stock:" + key.String() }

func orderLockName(id int64) string { return fmt.Sprintf("order:%d", id) }
