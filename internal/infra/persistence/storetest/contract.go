// Package storetest holds the behavioral contract every persistent store
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockcore/pkg/domain"
)

// Factory returns an empty, migrated store. Run closes it.
type Factory func(t *testing.T) domain.PersistentStore

var (
	// KeyHot is seeded with 10 units.
	KeyHot = domain.StockKey{ProductID: 1, WarehouseID: 1}
	// KeyCold is seeded with 4 units.
	KeyCold = domain.StockKey{ProductID: 2, WarehouseID: 1}
)

// Catalog is the fixture loaded before each contract case.
func Catalog() domain.Catalog {
	return domain.Catalog{
		Warehouses: []domain.Warehouse{{ID: 1, Name: "North"}, {ID: 2, Name: "South"}},
		Products: []domain.Product{
			{ID: 1, Name: "Widget", Price: decimal.RequireFromString("100.50")},
			{ID: 2, Name: "Gadget", Price: decimal.RequireFromString("75.99")},
		},
		Stocks: []domain.StockRecord{
			{ProductID: 1, WarehouseID: 1, Quantity: 10},
			{ProductID: 2, WarehouseID: 1, Quantity: 4},
		},
	}
}

// Run executes the contract.
func Run(t *testing.T, factory Factory) {
	cases := map[string]func(t *testing.T, store domain.PersistentStore){
		"catalog":              testCatalog,
		"commit":               testCommit,
		"rollback":             testRollback,
		"adjust_requires_lock": testAdjustRequiresLock,
		"replace_items":        testReplaceItems,
		"listing":              testListing,
		"concurrent_reserve":   testConcurrentReserve,
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer func() { _ = store.Close() }()
			if err := store.SeedCatalog(context.Background(), Catalog()); err != nil {
				t.Fatalf("seed catalog: %v", err)
			}
			tc(t, store)
		})
	}
}

func testCatalog(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	if err := store.SeedCatalog(ctx, Catalog()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	warehouses, err := store.ListWarehouses(ctx)
	if err != nil || len(warehouses) != 2 || warehouses[0].Name != "North" {
		t.Fatalf("unexpected warehouses %+v err=%v", warehouses, err)
	}
	products, err := store.ListProducts(ctx)
	if err != nil || len(products) != 2 || !products[0].Price.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected products %+v err=%v", products, err)
	}
	if _, ok, _ := store.GetProduct(ctx, 99); ok {
		t.Fatalf("expected missing product")
	}
	if w, ok, _ := store.GetWarehouse(ctx, 2); !ok || w.Name != "South" {
		t.Fatalf("expected South warehouse, got %+v", w)
	}
	stocks, err := store.ListStocks(ctx)
	if err != nil || len(stocks) != 2 || stocks[0].Seeded != 10 {
		t.Fatalf("unexpected stocks %+v err=%v", stocks, err)
	}
}

func reserve(tx domain.Transaction, key domain.StockKey, qty int, orderID *int64, at time.Time) error {
	rec, ok, err := tx.LockStock(key)
	if err != nil {
		return err
	}
	if !ok || rec.Quantity < qty {
		var available *int
		if ok {
			available = &rec.Quantity
		}
		return domain.InsufficientStockError{ProductID: key.ProductID, WarehouseID: key.WarehouseID, Requested: qty, Available: available}
	}
	if _, err := tx.AdjustStock(key, -qty); err != nil {
		return err
	}
	_, err = tx.AppendMovement(domain.StockMovement{ProductID: key.ProductID, WarehouseID: key.WarehouseID, OrderID: orderID, QuantityChange: -qty, Type: domain.MovementOrderCreated, CreatedAt: at})
	return err
}

func newOrder(customer string, at time.Time, items ...domain.LineItem) domain.Order {
	return domain.Order{Customer: customer, WarehouseID: 1, Status: domain.OrderStatusActive, CreatedAt: at, UpdatedAt: at, Items: items}
}

func testCommit(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	var created domain.Order
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.InsertOrder(newOrder("Ivan", now, domain.LineItem{ProductID: 1, Count: 3}))
		if err != nil {
			return err
		}
		return reserve(tx, KeyHot, 3, &created.ID, now)
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := store.GetOrder(ctx, created.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusActive || got.Customer != "Ivan" || len(got.Items) != 1 || got.Items[0].Count != 3 {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got.CreatedAt.Equal(now) || got.CompletedAt != nil {
		t.Fatalf("unexpected timestamps %+v", got)
	}
	rec, ok, err := store.GetStock(ctx, KeyHot)
	if err != nil || !ok || rec.Quantity != 7 {
		t.Fatalf("expected stock 7, got %+v ok=%v err=%v", rec, ok, err)
	}
	totals, err := store.MovementTotals(ctx)
	if err != nil || totals[KeyHot] != -3 {
		t.Fatalf("expected movement total -3, got %v err=%v", totals, err)
	}
	if rec.Seeded+totals[KeyHot] != rec.Quantity {
		t.Fatalf("ledger does not reconcile: %+v totals=%d", rec, totals[KeyHot])
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		o, err := tx.LockOrder(created.ID)
		if err != nil {
			return err
		}
		done := now.Add(time.Minute)
		o.Status = domain.OrderStatusCompleted
		o.CompletedAt = &done
		o.UpdatedAt = done
		_, err = tx.SaveOrder(o)
		return err
	})
	if err != nil {
		t.Fatalf("save order: %v", err)
	}
	got, _ = store.GetOrder(ctx, created.ID)
	if got.Status != domain.OrderStatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected completed order, got %+v", got)
	}
}

func testRollback(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		o, err := tx.InsertOrder(newOrder("Ivan", now, domain.LineItem{ProductID: 1, Count: 2}, domain.LineItem{ProductID: 2, Count: 5}))
		if err != nil {
			return err
		}
		if err := reserve(tx, KeyHot, 2, &o.ID, now); err != nil {
			return err
		}
		return reserve(tx, KeyCold, 5, &o.ID, now)
	})
	var insufficient domain.InsufficientStockError
	if !errors.As(err, &insufficient) || insufficient.Available == nil || *insufficient.Available != 4 {
		t.Fatalf("expected insufficient stock with available 4, got %v", err)
	}
	rec, _, _ := store.GetStock(ctx, KeyHot)
	if rec.Quantity != 10 {
		t.Fatalf("expected hot stock untouched, got %d", rec.Quantity)
	}
	orders, total, err := store.ListOrders(ctx, domain.OrderFilter{}, domain.Page{Number: 1, Size: 15})
	if err != nil || total != 0 || len(orders) != 0 {
		t.Fatalf("expected no orders after rollback, got %d err=%v", total, err)
	}
	movements, total, err := store.ListMovements(ctx, domain.MovementFilter{}, domain.Page{Number: 1, Size: 15})
	if err != nil || total != 0 || len(movements) != 0 {
		t.Fatalf("expected no movements after rollback, got %d err=%v", total, err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, ok, err := tx.LockStock(domain.StockKey{ProductID: 2, WarehouseID: 2})
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("expected no stock record for product 2 in warehouse 2")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lock missing record: %v", err)
	}
}

func testAdjustRequiresLock(t *testing.T, store domain.PersistentStore) {
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.AdjustStock(KeyHot, 1)
		return err
	})
	if !errors.Is(err, domain.ErrStockNotLocked) {
		t.Fatalf("expected not locked error, got %v", err)
	}
}

func testReplaceItems(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	var id int64
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		o, err := tx.InsertOrder(newOrder("Anna", now, domain.LineItem{ProductID: 1, Count: 1}, domain.LineItem{ProductID: 2, Count: 1}))
		id = o.ID
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.LockOrder(id); err != nil {
			return err
		}
		items, err := tx.ReplaceItems(id, []domain.LineItem{{ProductID: 2, Count: 3}})
		if err != nil {
			return err
		}
		if len(items) != 1 || items[0].ID == 0 || items[0].OrderID != id {
			t.Fatalf("unexpected replaced items %+v", items)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := store.GetOrder(ctx, id)
	if len(got.Items) != 1 || got.Items[0].ProductID != 2 || got.Items[0].Count != 3 {
		t.Fatalf("unexpected items after replace %+v", got.Items)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.LockOrder(id + 1000)
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetOrder(ctx, id+1000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from GetOrder, got %v", err)
	}
}

func testListing(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	customers := []string{"Alice", "Bob", "alicia"}
	for i, customer := range customers {
		at := base.Add(time.Duration(i) * time.Hour)
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			o, err := tx.InsertOrder(newOrder(customer, at, domain.LineItem{ProductID: 1, Count: 1}))
			if err != nil {
				return err
			}
			return reserve(tx, KeyHot, 1, &o.ID, at)
		})
		if err != nil {
			t.Fatalf("insert %s: %v", customer, err)
		}
	}
	orders, total, err := store.ListOrders(ctx, domain.OrderFilter{Customer: "ALI"}, domain.Page{Number: 1, Size: 15})
	if err != nil || total != 2 || len(orders) != 2 {
		t.Fatalf("expected 2 matching orders, got %d err=%v", total, err)
	}
	if orders[0].Customer != "alicia" || len(orders[0].Items) != 1 {
		t.Fatalf("expected newest first with items, got %+v", orders[0])
	}
	page2, total, _ := store.ListOrders(ctx, domain.OrderFilter{}, domain.Page{Number: 2, Size: 2})
	if total != 3 || len(page2) != 1 || page2[0].Customer != "Alice" {
		t.Fatalf("unexpected second page %+v total=%d", page2, total)
	}
	from := base.Add(30 * time.Minute)
	movements, total, err := store.ListMovements(ctx, domain.MovementFilter{ProductID: 1, WarehouseID: 1, From: &from}, domain.Page{Number: 1, Size: 15})
	if err != nil || total != 2 || len(movements) != 2 {
		t.Fatalf("expected 2 movements after from, got %d err=%v", total, err)
	}
	if !movements[0].CreatedAt.After(movements[1].CreatedAt) {
		t.Fatalf("expected movements newest first")
	}
	to := base
	early, total, _ := store.ListMovements(ctx, domain.MovementFilter{To: &to}, domain.Page{Number: 1, Size: 15})
	if total != 1 || early[0].QuantityChange != -1 || early[0].Type != domain.MovementOrderCreated || early[0].OrderID == nil {
		t.Fatalf("unexpected early movements %+v", early)
	}
	byOrder, total, _ := store.ListMovements(ctx, domain.MovementFilter{OrderID: *early[0].OrderID}, domain.Page{})
	if total != 1 || len(byOrder) != 1 {
		t.Fatalf("expected one movement for order, got %d", total)
	}
	all, _, _ := store.ListMovements(ctx, domain.MovementFilter{}, domain.Page{})
	after, total, err := store.ListMovements(ctx, domain.MovementFilter{After: domain.CursorOf(all[0])}, domain.Page{Number: 1, Size: 15})
	if err != nil || total != len(all)-1 || len(after) != len(all)-1 || after[0].ID != all[1].ID {
		t.Fatalf("expected keyset page to skip the newest movement, got %+v total=%d err=%v", after, total, err)
	}
	if rest, _, _ := store.ListMovements(ctx, domain.MovementFilter{After: domain.CursorOf(all[len(all)-1])}, domain.Page{}); len(rest) != 0 {
		t.Fatalf("expected nothing after the oldest movement, got %+v", rest)
	}
}

// testConcurrentReserve races reservations for 6 units against a stock of 10.
func testConcurrentReserve(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				return reserve(tx, KeyHot, 6, nil, time.Now().UTC())
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d (failures %v)", successes, failures)
	}
	for _, err := range failures {
		if !errors.Is(err, domain.ErrInsufficientStock) && !domain.IsRetryable(err) {
			t.Fatalf("unexpected failure kind: %v", err)
		}
	}
	rec, _, _ := store.GetStock(ctx, KeyHot)
	if rec.Quantity != 10-6*successes {
		t.Fatalf("expected stock %d, got %d", 10-6*successes, rec.Quantity)
	}
}
