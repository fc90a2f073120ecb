package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stockcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// Store is a relational persistent store. Stock and order rows are locked with
// the dialect's lock clause for the duration of each transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{db: db, dialect: dialect, engine: engine}
}

// Migrate applies the dialect schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the configured dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// wrap classifies a driver error. Retryable failures become TransientError.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || (s.dialect.Retryable != nil && s.dialect.Retryable(err)) {
		return domain.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) q(query string) string { return s.dialect.rebind(query) }

// RunInTransaction executes fn inside a database transaction. The transaction
// is rolled back on any error, blocking rule result or panic.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, s.wrap("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()
	if s.dialect.PrepareTx != nil {
		if err := s.dialect.PrepareTx(ctx, sqlTx); err != nil {
			return domain.Result{}, s.wrap("prepare transaction", err)
		}
	}
	tx := &transaction{ctx: ctx, store: s, tx: sqlTx, locked: make(map[domain.StockKey]struct{})}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	res, err := s.engine.Evaluate(ctx, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	if err := sqlTx.Commit(); err != nil {
		return res, s.wrap("commit", err)
	}
	committed = true
	return res, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const orderColumns = `id, customer, warehouse_id, status, created_at, updated_at, completed_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		o                           domain.Order
		status                      string
		created, updated, completed timeValue
	)
	if err := row.Scan(&o.ID, &o.Customer, &o.WarehouseID, &status, &created, &updated, &completed); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	o.CompletedAt = completed.ptr()
	return o, nil
}

func (s *Store) loadItems(ctx context.Context, q queryer, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[int64]int, len(orders))
	args := make([]any, 0, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args = append(args, o.ID)
	}
	query := `SELECT id, order_id, product_id, quantity FROM order_items WHERE order_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",") + `) ORDER BY id`
	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Count); err != nil {
			return err
		}
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

// GetOrder returns an order with its items.
func (s *Store) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return domain.Order{}, s.wrap("get order", err)
	}
	orders := []domain.Order{o}
	if err := s.loadItems(ctx, s.db, orders); err != nil {
		return domain.Order{}, s.wrap("load order items", err)
	}
	return orders[0], nil
}

func limitClause(page domain.Page) (string, []any) {
	if page.Size <= 0 {
		return "", nil
	}
	return ` LIMIT ? OFFSET ?`, []any{page.Size, page.Offset()}
}

// ListOrders returns orders newest first.
func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WarehouseID != 0 {
		where = append(where, "warehouse_id = ?")
		args = append(args, filter.WarehouseID)
	}
	if filter.Customer != "" {
		where = append(where, "LOWER(customer) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Customer)+"%")
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM orders`+cond), args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count orders", err)
	}
	limit, limitArgs := limitClause(page)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders`+cond+` ORDER BY created_at DESC, id DESC`+limit), append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, s.wrap("list orders", err)
	}
	defer func() { _ = rows.Close() }()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, s.wrap("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap("list orders", err)
	}
	_ = rows.Close()
	if err := s.loadItems(ctx, s.db, orders); err != nil {
		return nil, 0, s.wrap("load order items", err)
	}
	return orders, total, nil
}

// ListMovements returns movements newest first.
func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter, page domain.Page) ([]domain.StockMovement, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		where = append(where, "warehouse_id = ?")
		args = append(args, filter.WarehouseID)
	}
	if filter.OrderID != 0 {
		where = append(where, "order_id = ?")
		args = append(args, filter.OrderID)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, s.dialect.encodeTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, s.dialect.encodeTime(*filter.To))
	}
	if c := filter.After; c != nil {
		at := s.dialect.encodeTime(c.CreatedAt)
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, at, at, c.ID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM stock_movements`+cond), args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count movements", err)
	}
	limit, limitArgs := limitClause(page)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, product_id, warehouse_id, order_id, quantity_change, type, created_at FROM stock_movements`+cond+` ORDER BY created_at DESC, id DESC`+limit), append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, s.wrap("list movements", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.StockMovement
	for rows.Next() {
		var (
			m       domain.StockMovement
			orderID sql.NullInt64
			kind    string
			created timeValue
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &orderID, &m.QuantityChange, &kind, &created); err != nil {
			return nil, 0, s.wrap("scan movement", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			m.OrderID = &id
		}
		m.Type = domain.MovementType(kind)
		m.CreatedAt = created.Time
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap("list movements", err)
	}
	return out, total, nil
}

// MovementTotals sums movements per stock key.
func (s *Store) MovementTotals(ctx context.Context) (map[domain.StockKey]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, warehouse_id, SUM(quantity_change) FROM stock_movements GROUP BY product_id, warehouse_id`)
	if err != nil {
		return nil, s.wrap("movement totals", err)
	}
	defer func() { _ = rows.Close() }()
	totals := make(map[domain.StockKey]int)
	for rows.Next() {
		var (
			key domain.StockKey
			sum int64
		)
		if err := rows.Scan(&key.ProductID, &key.WarehouseID, &sum); err != nil {
			return nil, s.wrap("scan movement total", err)
		}
		totals[key] = int(sum)
	}
	return totals, s.wrap("movement totals", rows.Err())
}

// GetStock returns the stock record for key.
func (s *Store) GetStock(ctx context.Context, key domain.StockKey) (domain.StockRecord, bool, error) {
	rec := domain.StockRecord{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT quantity, seeded FROM stocks WHERE product_id = ? AND warehouse_id = ?`), key.ProductID, key.WarehouseID).Scan(&rec.Quantity, &rec.Seeded)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, false, nil
	}
	if err != nil {
		return domain.StockRecord{}, false, s.wrap("get stock", err)
	}
	return rec, true, nil
}

// ListStocks returns every stock record ordered by key.
func (s *Store) ListStocks(ctx context.Context) ([]domain.StockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, warehouse_id, quantity, seeded FROM stocks ORDER BY product_id, warehouse_id`)
	if err != nil {
		return nil, s.wrap("list stocks", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.StockRecord
	for rows.Next() {
		var r domain.StockRecord
		if err := rows.Scan(&r.ProductID, &r.WarehouseID, &r.Quantity, &r.Seeded); err != nil {
			return nil, s.wrap("scan stock", err)
		}
		out = append(out, r)
	}
	return out, s.wrap("list stocks", rows.Err())
}

// GetWarehouse looks up a warehouse.
func (s *Store) GetWarehouse(ctx context.Context, id int64) (domain.Warehouse, bool, error) {
	w := domain.Warehouse{ID: id}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT name FROM warehouses WHERE id = ?`), id).Scan(&w.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Warehouse{}, false, nil
	}
	if err != nil {
		return domain.Warehouse{}, false, s.wrap("get warehouse", err)
	}
	return w, true, nil
}

// ListWarehouses returns warehouses ordered by id.
func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, s.wrap("list warehouses", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Warehouse
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name); err != nil {
			return nil, s.wrap("scan warehouse", err)
		}
		out = append(out, w)
	}
	return out, s.wrap("list warehouses", rows.Err())
}

// GetProduct looks up a product.
func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, bool, error) {
	p := domain.Product{ID: id}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT name, price FROM products WHERE id = ?`), id).Scan(&p.Name, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, s.wrap("get product", err)
	}
	return p, true, nil
}

// ListProducts returns products ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price FROM products ORDER BY id`)
	if err != nil {
		return nil, s.wrap("list products", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, s.wrap("scan product", err)
		}
		out = append(out, p)
	}
	return out, s.wrap("list products", rows.Err())
}

// SeedCatalog inserts catalog rows that do not exist yet.
func (s *Store) SeedCatalog(ctx context.Context, catalog domain.Catalog) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin seed", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range catalog.Warehouses {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO warehouses (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING`), w.ID, w.Name); err != nil {
			return s.wrap("seed warehouse", err)
		}
	}
	for _, p := range catalog.Products {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO products (id, name, price) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`), p.ID, p.Name, p.Price.StringFixed(2)); err != nil {
			return s.wrap("seed product", err)
		}
	}
	for _, r := range catalog.Stocks {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO stocks (product_id, warehouse_id, quantity, seeded) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`), r.ProductID, r.WarehouseID, r.Quantity, r.Quantity); err != nil {
			return s.wrap("seed stock", err)
		}
	}
	return s.wrap("commit seed", tx.Commit())
}
