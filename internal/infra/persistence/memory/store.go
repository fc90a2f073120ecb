// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral environments. Stock and order records are
// guarded by per-key locks so transactions on disjoint keys run in parallel.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stockcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	warehouses map[int64]domain.Warehouse
	products   map[int64]domain.Product
	stocks     map[domain.StockKey]domain.StockRecord
	orders     map[int64]domain.Order
	items      map[int64][]domain.LineItem
	movements  []domain.StockMovement
}

func newMemoryState() memoryState {
	return memoryState{
		warehouses: make(map[int64]domain.Warehouse),
		products:   make(map[int64]domain.Product),
		stocks:     make(map[domain.StockKey]domain.StockRecord),
		orders:     make(map[int64]domain.Order),
		items:      make(map[int64][]domain.LineItem),
	}
}

// Snapshot is a point-in-time copy of the store state.
type Snapshot struct {
	Warehouses []domain.Warehouse     `json:"warehouses"`
	Products   []domain.Product       `json:"products"`
	Stocks     []domain.StockRecord   `json:"stocks"`
	Orders     []domain.Order         `json:"orders"`
	Movements  []domain.StockMovement `json:"movements"`
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a key lock. Zero
// waits until the transaction context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu          sync.RWMutex
	state       memoryState
	locks       *lockTable
	engine      *domain.RulesEngine
	lockTimeout time.Duration

	nextOrderID    int64
	nextItemID     int64
	nextMovementID int64
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		locks:  newLockTable(),
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) allocate(counter *int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	return *counter
}

// RunInTransaction executes fn against a staged overlay of the store. Staged
// writes become visible when fn and the rules succeed; locks are released
// afterwards in every case.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	tx := newTransaction(ctx, s)
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Result{}, contextError("commit", err)
	}
	res, err := s.engine.Evaluate(ctx, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	tx.commit()
	return res, nil
}

// ExportState clones the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Warehouses: sortedValues(s.state.warehouses, func(a, b domain.Warehouse) bool { return a.ID < b.ID }),
		Products:   sortedValues(s.state.products, func(a, b domain.Product) bool { return a.ID < b.ID }),
		Stocks:     sortedValues(s.state.stocks, func(a, b domain.StockRecord) bool { return a.Key().Less(b.Key()) }),
		Movements:  append([]domain.StockMovement(nil), s.state.movements...),
	}
	for _, o := range sortedValues(s.state.orders, func(a, b domain.Order) bool { return a.ID < b.ID }) {
		snap.Orders = append(snap.Orders, s.decorate(o))
	}
	return snap
}

// ImportState replaces the committed state with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	var maxOrder, maxItem, maxMovement int64
	for _, w := range snapshot.Warehouses {
		state.warehouses[w.ID] = w
	}
	for _, p := range snapshot.Products {
		state.products[p.ID] = p
	}
	for _, r := range snapshot.Stocks {
		state.stocks[r.Key()] = r
	}
	for _, o := range snapshot.Orders {
		items := append([]domain.LineItem(nil), o.Items...)
		for _, it := range items {
			maxItem = max(maxItem, it.ID)
		}
		o.Items = nil
		state.orders[o.ID] = o
		state.items[o.ID] = items
		maxOrder = max(maxOrder, o.ID)
	}
	for _, m := range snapshot.Movements {
		maxMovement = max(maxMovement, m.ID)
	}
	state.movements = append(state.movements, snapshot.Movements...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.nextOrderID, s.nextItemID, s.nextMovementID = maxOrder, maxItem, maxMovement
}

// must be called with s.mu held.
func (s *Store) decorate(o domain.Order) domain.Order {
	o.Items = append([]domain.LineItem(nil), s.state.items[o.ID]...)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	return o
}

// GetOrder returns a committed order with its items.
func (s *Store) GetOrder(_ context.Context, id int64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(id, 10)}
	}
	return s.decorate(o), nil
}

// ListOrders returns committed orders newest first.
func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(filter.Customer)
	var matched []domain.Order
	for _, o := range s.state.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.WarehouseID != 0 && o.WarehouseID != filter.WarehouseID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(o.Customer), needle) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	window := paginate(matched, page)
	out := make([]domain.Order, 0, len(window))
	for _, o := range window {
		out = append(out, s.decorate(o))
	}
	return out, len(matched), nil
}

// ListMovements returns committed movements newest first.
func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter, page domain.Page) ([]domain.StockMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.StockMovement
	for i := len(s.state.movements) - 1; i >= 0; i-- {
		m := s.state.movements[i]
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.OrderID != 0 && (m.OrderID == nil || *m.OrderID != filter.OrderID) {
			continue
		}
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && m.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.After != nil && !filter.After.Follows(m) {
			continue
		}
		matched = append(matched, m)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return append([]domain.StockMovement(nil), paginate(matched, page)...), len(matched), nil
}

// MovementTotals sums committed movements per stock key.
func (s *Store) MovementTotals(_ context.Context) (map[domain.StockKey]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := make(map[domain.StockKey]int)
	for _, m := range s.state.movements {
		totals[m.Key()] += m.QuantityChange
	}
	return totals, nil
}

// GetStock returns the committed stock record for key.
func (s *Store) GetStock(_ context.Context, key domain.StockKey) (domain.StockRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.stocks[key]
	return r, ok, nil
}

// ListStocks returns every stock record ordered by key.
func (s *Store) ListStocks(_ context.Context) ([]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.stocks, func(a, b domain.StockRecord) bool { return a.Key().Less(b.Key()) }), nil
}

// GetWarehouse looks up a warehouse.
func (s *Store) GetWarehouse(_ context.Context, id int64) (domain.Warehouse, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.state.warehouses[id]
	return w, ok, nil
}

// ListWarehouses returns warehouses ordered by id.
func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.warehouses, func(a, b domain.Warehouse) bool { return a.ID < b.ID }), nil
}

// GetProduct looks up a product.
func (s *Store) GetProduct(_ context.Context, id int64) (domain.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[id]
	return p, ok, nil
}

// ListProducts returns products ordered by id.
func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.products, func(a, b domain.Product) bool { return a.ID < b.ID }), nil
}

// SeedCatalog inserts catalog rows that are not present yet. Existing stock
// records keep their quantity.
func (s *Store) SeedCatalog(_ context.Context, catalog domain.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range catalog.Warehouses {
		if _, ok := s.state.warehouses[w.ID]; !ok {
			s.state.warehouses[w.ID] = w
		}
	}
	for _, p := range catalog.Products {
		if _, ok := s.state.products[p.ID]; !ok {
			s.state.products[p.ID] = p
		}
	}
	for _, r := range catalog.Stocks {
		if _, ok := s.state.stocks[r.Key()]; !ok {
			r.Seeded = r.Quantity
			s.state.stocks[r.Key()] = r
		}
	}
	return nil
}

func paginate[T any](all []T, page domain.Page) []T {
	if page.Size <= 0 {
		return all
	}
	start := page.Offset()
	if start >= len(all) {
		return nil
	}
	end := min(start+page.Size, len(all))
	return all[start:end]
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
