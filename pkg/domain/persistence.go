package domain

import (
	"context"
	"time"
)

// Transaction exposes the operations a persistence implementation must
// support within an atomic scope. Implementations bind the context passed to
// RunInTransaction; every blocking call honors it.
type Transaction interface {
	// LockStock takes an exclusive lock on the stock record for the rest of the
	// transaction and returns its current quantity. ok is false when no record
	// exists. Locking an already held key is a no-op.
	LockStock(key StockKey) (record StockRecord, ok bool, err error)
	// AdjustStock applies a signed delta to a locked record.
	AdjustStock(key StockKey, delta int) (StockRecord, error)
	AppendMovement(StockMovement) (StockMovement, error)
	// LockOrder takes an exclusive lock on the order and returns it with items.
	LockOrder(id int64) (Order, error)
	// InsertOrder persists the order and its items, assigning identifiers.
	InsertOrder(Order) (Order, error)
	// ReplaceItems deletes every existing item of the order and inserts items.
	ReplaceItems(orderID int64, items []LineItem) ([]LineItem, error)
	// SaveOrder writes customer, status and timestamps of a locked order.
	SaveOrder(Order) (Order, error)
}

// Page selects a window of a listing. Number is one-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	Status      OrderStatus
	Customer    string
	WarehouseID int64
}

// MovementFilter narrows movement listings. Zero values match everything;
// From and To are inclusive.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	OrderID     int64
	From        *time.Time
	To          *time.Time
	// After keeps only movements that sort after the cursor in newest-first
	// order, for keyset paging.
	After *MovementCursor
}

// MovementCursor marks a position in the newest-first movement order.
type MovementCursor struct {
	CreatedAt time.Time
	ID        int64
}

// CursorOf returns the cursor positioned at m.
func CursorOf(m StockMovement) *MovementCursor {
	return &MovementCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Follows reports whether m sorts after c: older, or equally old with a lower id.
func (c MovementCursor) Follows(m StockMovement) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.ID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}

// PersistentStore is the abstraction over durable backends used by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, page Page) ([]Order, int, error)
	// ListMovements returns movements newest first.
	ListMovements(ctx context.Context, filter MovementFilter, page Page) ([]StockMovement, int, error)
	// MovementTotals sums quantity changes per stock key.
	MovementTotals(ctx context.Context) (map[StockKey]int, error)
	GetStock(ctx context.Context, key StockKey) (StockRecord, bool, error)
	ListStocks(ctx context.Context) ([]StockRecord, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, bool, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	GetProduct(ctx context.Context, id int64) (Product, bool, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// SeedCatalog inserts catalog rows that do not exist yet.
	SeedCatalog(ctx context.Context, catalog Catalog) error
	Close() error
}
