package memory

import (
	"context"
	"fmt"
	"strconv"

	"stockcore/pkg/domain"
)

// transaction stages writes until commit. Only keys the transaction holds a
// lock for are ever staged, so applying the overlay cannot clobber a
// concurrent transaction.
type transaction struct {
	ctx     context.Context
	store   *Store
	held    map[string]struct{}
	order   []string
	stocks  map[domain.StockKey]domain.StockRecord
	orders  map[int64]domain.Order
	items   map[int64][]domain.LineItem
	moves   []domain.StockMovement
	changes []domain.Change
}

func newTransaction(ctx context.Context, s *Store) *transaction {
	return &transaction{
		ctx:    ctx,
		store:  s,
		held:   make(map[string]struct{}),
		stocks: make(map[domain.StockKey]domain.StockRecord),
		orders: make(map[int64]domain.Order),
		items:  make(map[int64][]domain.LineItem),
	}
}

func (tx *transaction) lock(name string) error {
	if _, ok := tx.held[name]; ok {
		return nil
	}
	if err := tx.store.locks.acquire(tx.ctx, name, tx.store.lockTimeout); err != nil {
		return err
	}
	tx.held[name] = struct{}{}
	tx.order = append(tx.order, name)
	return nil
}

func (tx *transaction) releaseLocks() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.store.locks.release(tx.order[i])
	}
	tx.order = nil
	tx.held = map[string]struct{}{}
}

func (tx *transaction) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range tx.stocks {
		s.state.stocks[k] = r
	}
	for id, o := range tx.orders {
		o.Items = nil
		s.state.orders[id] = o
	}
	for id, items := range tx.items {
		s.state.items[id] = items
	}
	s.state.movements = append(s.state.movements, tx.moves...)
}

func (tx *transaction) record(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) readStock(key domain.StockKey) (domain.StockRecord, bool) {
	if r, ok := tx.stocks[key]; ok {
		return r, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	r, ok := tx.store.state.stocks[key]
	return r, ok
}

func (tx *transaction) LockStock(key domain.StockKey) (domain.StockRecord, bool, error) {
	if err := tx.lock(stockLockName(key)); err != nil {
		return domain.StockRecord{}, false, err
	}
	r, ok := tx.readStock(key)
	return r, ok, nil
}

func (tx *transaction) AdjustStock(key domain.StockKey, delta int) (domain.StockRecord, error) {
	if _, ok := tx.held[stockLockName(key)]; !ok {
		return domain.StockRecord{}, fmt.Errorf("adjust stock %s: %w", key, domain.ErrStockNotLocked)
	}
	before, ok := tx.readStock(key)
	if !ok {
		return domain.StockRecord{}, domain.NotFoundError{Entity: domain.EntityStock, ID: key.String()}
	}
	after := before
	after.Quantity += delta
	tx.stocks[key] = after
	tx.record(domain.Change{Entity: domain.EntityStock, Action: domain.ActionUpdate, Before: before, After: after})
	return after, nil
}

func (tx *transaction) AppendMovement(m domain.StockMovement) (domain.StockMovement, error) {
	if err := tx.ctx.Err(); err != nil {
		return domain.StockMovement{}, contextError("append movement", err)
	}
	m.ID = tx.store.allocate(&tx.store.nextMovementID)
	if m.OrderID != nil {
		id := *m.OrderID
		m.OrderID = &id
	}
	tx.moves = append(tx.moves, m)
	tx.record(domain.Change{Entity: domain.EntityMovement, Action: domain.ActionCreate, After: m})
	return m, nil
}

func (tx *transaction) readOrder(id int64) (domain.Order, bool) {
	if o, ok := tx.orders[id]; ok {
		o.Items = append([]domain.LineItem(nil), tx.lineItems(id)...)
		return o, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	o, ok := tx.store.state.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	if items, staged := tx.items[id]; staged {
		o.Items = append([]domain.LineItem(nil), items...)
		return o, true
	}
	return tx.store.decorate(o), true
}

func (tx *transaction) lineItems(orderID int64) []domain.LineItem {
	if items, ok := tx.items[orderID]; ok {
		return items
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.state.items[orderID]
}

func (tx *transaction) LockOrder(id int64) (domain.Order, error) {
	if err := tx.lock(orderLockName(id)); err != nil {
		return domain.Order{}, err
	}
	o, ok := tx.readOrder(id)
	if !ok {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(id, 10)}
	}
	return o, nil
}

func (tx *transaction) InsertOrder(o domain.Order) (domain.Order, error) {
	if err := tx.ctx.Err(); err != nil {
		return domain.Order{}, contextError("insert order", err)
	}
	o.ID = tx.store.allocate(&tx.store.nextOrderID)
	if err := tx.lock(orderLockName(o.ID)); err != nil {
		return domain.Order{}, err
	}
	items := tx.assignItems(o.ID, o.Items)
	o.Items = nil
	tx.orders[o.ID] = o
	tx.items[o.ID] = items
	tx.record(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionCreate, After: o})
	o.Items = append([]domain.LineItem(nil), items...)
	return o, nil
}

func (tx *transaction) assignItems(orderID int64, items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		it.ID = tx.store.allocate(&tx.store.nextItemID)
		it.OrderID = orderID
		out = append(out, it)
		tx.record(domain.Change{Entity: domain.EntityLineItem, Action: domain.ActionCreate, After: it})
	}
	return out
}

func (tx *transaction) ReplaceItems(orderID int64, items []domain.LineItem) ([]domain.LineItem, error) {
	if _, ok := tx.held[orderLockName(orderID)]; !ok {
		return nil, fmt.Errorf("replace items of order %d: order not locked", orderID)
	}
	for _, old := range tx.lineItems(orderID) {
		tx.record(domain.Change{Entity: domain.EntityLineItem, Action: domain.ActionDelete, Before: old})
	}
	created := tx.assignItems(orderID, items)
	tx.items[orderID] = created
	return append([]domain.LineItem(nil), created...), nil
}

func (tx *transaction) SaveOrder(o domain.Order) (domain.Order, error) {
	if _, ok := tx.held[orderLockName(o.ID)]; !ok {
		return domain.Order{}, fmt.Errorf("save order %d: order not locked", o.ID)
	}
	before, ok := tx.readOrder(o.ID)
	if !ok {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(o.ID, 10)}
	}
	stored := before
	stored.Customer = o.Customer
	stored.Status = o.Status
	stored.UpdatedAt = o.UpdatedAt
	stored.CompletedAt = o.CompletedAt
	stored.Items = nil
	tx.orders[o.ID] = stored
	before.Items = nil
	tx.record(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionUpdate, Before: before, After: stored})
	stored.Items = append([]domain.LineItem(nil), tx.lineItems(o.ID)...)
	return stored, nil
}
