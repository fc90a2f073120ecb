package core

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"stockcore/pkg/domain"
)

const (
	seedMinStock = 10
	seedMaxStock = 100
)

// DefaultCatalog builds the seed catalog: three warehouses, five products and
// a stock record for every pair with a quantity drawn from [10, 100].
func DefaultCatalog(rng *rand.Rand) domain.Catalog {
	warehouses := []domain.Warehouse{
		{ID: 1, Name: "Warehouse 1"},
		{ID: 2, Name: "Warehouse 2"},
		{ID: 3, Name: "Warehouse 3"},
	}
	products := []domain.Product{
		{ID: 1, Name: "Product A", Price: decimal.RequireFromString("100.50")},
		{ID: 2, Name: "Product B", Price: decimal.RequireFromString("250.00")},
		{ID: 3, Name: "Product C", Price: decimal.RequireFromString("75.99")},
		{ID: 4, Name: "Product D", Price: decimal.RequireFromString("150.00")},
		{ID: 5, Name: "Product E", Price: decimal.RequireFromString("199.99")},
	}
	stocks := make([]domain.StockRecord, 0, len(warehouses)*len(products))
	for _, w := range warehouses {
		for _, p := range products {
			stocks = append(stocks, domain.StockRecord{
				ProductID:   p.ID,
				WarehouseID: w.ID,
				Quantity:    seedMinStock + rng.IntN(seedMaxStock-seedMinStock+1),
			})
		}
	}
	return domain.Catalog{Warehouses: warehouses, Products: products, Stocks: stocks}
}

// Seed loads catalog into the store. Rows that already exist are kept as they
// are, so seeding twice is harmless.
func (s *Service) Seed(ctx context.Context, catalog domain.Catalog) error {
	if err := s.store.SeedCatalog(ctx, catalog); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	s.logger.Info("catalog seeded", "warehouses", len(catalog.Warehouses), "products", len(catalog.Products), "stocks", len(catalog.Stocks))
	return nil
}
