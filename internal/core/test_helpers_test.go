package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockcore/pkg/domain"
)

var (
	keyW1P1 = domain.StockKey{ProductID: 1, WarehouseID: 1}
	keyW1P2 = domain.StockKey{ProductID: 2, WarehouseID: 1}
)

var fixedNow = time.Date(2025, 5, 19, 12, 35, 16, 123456789, time.UTC)

func fixtureCatalog(p1, p2 int) domain.Catalog {
	return domain.Catalog{
		Warehouses: []domain.Warehouse{{ID: 1, Name: "W"}, {ID: 2, Name: "Spare"}},
		Products: []domain.Product{
			{ID: 1, Name: "P", Price: decimal.RequireFromString("100.50")},
			{ID: 2, Name: "Q", Price: decimal.RequireFromString("250.00")},
			{ID: 3, Name: "Unstocked", Price: decimal.RequireFromString("75.99")},
		},
		Stocks: []domain.StockRecord{
			{ProductID: 1, WarehouseID: 1, Quantity: p1},
			{ProductID: 2, WarehouseID: 1, Quantity: p2},
		},
	}
}

func newFixtureService(t *testing.T, p1, p2 int, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	svc := NewInMemoryService(nil, opts...)
	if err := svc.Seed(context.Background(), fixtureCatalog(p1, p2)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc
}

func stockOf(t *testing.T, svc *Service, key domain.StockKey) int {
	t.Helper()
	rec, ok, err := svc.Store().GetStock(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("get stock %s: ok=%v err=%v", key, ok, err)
	}
	return rec.Quantity
}

func movementsOf(t *testing.T, svc *Service, orderID int64) []domain.StockMovement {
	t.Helper()
	moves, _, err := svc.ListMovements(context.Background(), domain.MovementFilter{OrderID: orderID}, domain.Page{Number: 1, Size: 100})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	return moves
}

func assertBalanced(t *testing.T, svc *Service) {
	t.Helper()
	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Balanced {
		t.Fatalf("ledger drifted: %+v", report.Drifted())
	}
}

type recordedLog struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprint(l.entries)
}

type metricCall struct {
	op      string
	success bool
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *recordingMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricCall{op: op, success: success})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}
