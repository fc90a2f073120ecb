package core

import (
	"context"
	"math/rand/v2"
	"testing"

	"stockcore/pkg/domain"
)

func domainItem(productID int64, count int) domain.ItemSpec {
	return domain.ItemSpec{ProductID: productID, Count: count}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog(rand.New(rand.NewPCG(1, 2)))
	if len(catalog.Warehouses) != 3 || len(catalog.Products) != 5 {
		t.Fatalf("unexpected catalog size: %d warehouses, %d products", len(catalog.Warehouses), len(catalog.Products))
	}
	if len(catalog.Stocks) != 15 {
		t.Fatalf("expected a stock record per pair, got %d", len(catalog.Stocks))
	}
	for _, s := range catalog.Stocks {
		if s.Quantity < 10 || s.Quantity > 100 {
			t.Fatalf("quantity %d outside [10, 100]", s.Quantity)
		}
	}
	if got := catalog.Products[2].Price.StringFixed(2); got != "75.99" {
		t.Fatalf("price = %s", got)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 7))
	first := DefaultCatalog(rng)
	if err := svc.Seed(ctx, first); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Seed(ctx, DefaultCatalog(rng)); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	stocks, err := svc.Store().ListStocks(ctx)
	if err != nil {
		t.Fatalf("list stocks: %v", err)
	}
	if len(stocks) != 15 {
		t.Fatalf("expected 15 stock records, got %d", len(stocks))
	}
	want := make(map[domain.StockKey]int)
	for _, s := range first.Stocks {
		want[s.Key()] = s.Quantity
	}
	for _, s := range stocks {
		if want[s.Key()] != s.Quantity || s.Seeded != s.Quantity {
			t.Fatalf("reseed changed %s: %+v", s.Key(), s)
		}
	}
	assertBalanced(t, svc)
}
