package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"stockcore/pkg/domain"
)

type transaction struct {
	ctx     context.Context
	store   *Store
	tx      *sql.Tx
	locked  map[domain.StockKey]struct{}
	changes []domain.Change
}

func (t *transaction) record(change domain.Change) {
	t.changes = append(t.changes, change)
}

func (t *transaction) LockStock(key domain.StockKey) (domain.StockRecord, bool, error) {
	s := t.store
	rec := domain.StockRecord{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
	query := `SELECT quantity, seeded FROM stocks WHERE product_id = ? AND warehouse_id = ?` + s.dialect.LockClause
	err := t.tx.QueryRowContext(t.ctx, s.q(query), key.ProductID, key.WarehouseID).Scan(&rec.Quantity, &rec.Seeded)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, false, nil
	}
	if err != nil {
		return domain.StockRecord{}, false, s.wrap("lock stock "+key.String(), err)
	}
	t.locked[key] = struct{}{}
	return rec, true, nil
}

func (t *transaction) AdjustStock(key domain.StockKey, delta int) (domain.StockRecord, error) {
	if _, ok := t.locked[key]; !ok {
		return domain.StockRecord{}, fmt.Errorf("adjust stock %s: %w", key, domain.ErrStockNotLocked)
	}
	s := t.store
	after := domain.StockRecord{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
	err := t.tx.QueryRowContext(t.ctx, s.q(`UPDATE stocks SET quantity = quantity + ? WHERE product_id = ? AND warehouse_id = ? RETURNING quantity, seeded`),
		delta, key.ProductID, key.WarehouseID).Scan(&after.Quantity, &after.Seeded)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, domain.NotFoundError{Entity: domain.EntityStock, ID: key.String()}
	}
	if err != nil {
		return domain.StockRecord{}, s.wrap("adjust stock "+key.String(), err)
	}
	before := after
	before.Quantity -= delta
	t.record(domain.Change{Entity: domain.EntityStock, Action: domain.ActionUpdate, Before: before, After: after})
	return after, nil
}

func (t *transaction) AppendMovement(m domain.StockMovement) (domain.StockMovement, error) {
	s := t.store
	var orderID sql.NullInt64
	if m.OrderID != nil {
		orderID = sql.NullInt64{Int64: *m.OrderID, Valid: true}
	}
	err := t.tx.QueryRowContext(t.ctx, s.q(`INSERT INTO stock_movements (product_id, warehouse_id, order_id, quantity_change, type, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		m.ProductID, m.WarehouseID, orderID, m.QuantityChange, string(m.Type), s.dialect.encodeTime(m.CreatedAt)).Scan(&m.ID)
	if err != nil {
		return domain.StockMovement{}, s.wrap("append movement", err)
	}
	t.record(domain.Change{Entity: domain.EntityMovement, Action: domain.ActionCreate, After: m})
	return m, nil
}

func (t *transaction) LockOrder(id int64) (domain.Order, error) {
	s := t.store
	o, err := scanOrder(t.tx.QueryRowContext(t.ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`+s.dialect.LockClause), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return domain.Order{}, s.wrap("lock order", err)
	}
	orders := []domain.Order{o}
	if err := s.loadItems(t.ctx, t.tx, orders); err != nil {
		return domain.Order{}, s.wrap("load order items", err)
	}
	return orders[0], nil
}

func (t *transaction) InsertOrder(o domain.Order) (domain.Order, error) {
	s := t.store
	err := t.tx.QueryRowContext(t.ctx, s.q(`INSERT INTO orders (customer, warehouse_id, status, created_at, updated_at, completed_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		o.Customer, o.WarehouseID, string(o.Status), s.dialect.encodeTime(o.CreatedAt), s.dialect.encodeTime(o.UpdatedAt), s.dialect.encodeNullTime(o.CompletedAt)).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, s.wrap("insert order", err)
	}
	items, err := t.insertItems(o.ID, o.Items)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = nil
	t.record(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionCreate, After: o})
	o.Items = items
	return o, nil
}

func (t *transaction) insertItems(orderID int64, items []domain.LineItem) ([]domain.LineItem, error) {
	s := t.store
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		it.OrderID = orderID
		err := t.tx.QueryRowContext(t.ctx, s.q(`INSERT INTO order_items (order_id, product_id, quantity) VALUES (?, ?, ?) RETURNING id`),
			orderID, it.ProductID, it.Count).Scan(&it.ID)
		if err != nil {
			return nil, s.wrap("insert order item", err)
		}
		t.record(domain.Change{Entity: domain.EntityLineItem, Action: domain.ActionCreate, After: it})
		out = append(out, it)
	}
	return out, nil
}

func (t *transaction) ReplaceItems(orderID int64, items []domain.LineItem) ([]domain.LineItem, error) {
	s := t.store
	current := []domain.Order{{ID: orderID}}
	if err := s.loadItems(t.ctx, t.tx, current); err != nil {
		return nil, s.wrap("load order items", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, s.q(`DELETE FROM order_items WHERE order_id = ?`), orderID); err != nil {
		return nil, s.wrap("delete order items", err)
	}
	for _, old := range current[0].Items {
		t.record(domain.Change{Entity: domain.EntityLineItem, Action: domain.ActionDelete, Before: old})
	}
	return t.insertItems(orderID, items)
}

func (t *transaction) SaveOrder(o domain.Order) (domain.Order, error) {
	s := t.store
	res, err := t.tx.ExecContext(t.ctx, s.q(`UPDATE orders SET customer = ?, status = ?, updated_at = ?, completed_at = ? WHERE id = ?`),
		o.Customer, string(o.Status), s.dialect.encodeTime(o.UpdatedAt), s.dialect.encodeNullTime(o.CompletedAt), o.ID)
	if err != nil {
		return domain.Order{}, s.wrap("save order", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(o.ID, 10)}
	}
	saved, err := t.LockOrder(o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	t.record(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionUpdate, After: withoutItems(saved)})
	return saved, nil
}

func withoutItems(o domain.Order) domain.Order {
	o.Items = nil
	return o
}
