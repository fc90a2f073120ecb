package core

import (
	"context"
	"fmt"

	"stockcore/pkg/domain"
)

// ReconciliationEntry compares one stock record with its movement history.
type ReconciliationEntry struct {
	Key           domain.StockKey `json:"-"`
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	Seeded        int             `json:"seeded"`
	Quantity      int             `json:"stock"`
	MovementTotal int             `json:"movement_total"`
	Drift         int             `json:"drift"`
}

// ReconciliationReport lists every stock record. Balanced is true when no
// record drifts from seeded plus the sum of its movements.
type ReconciliationReport struct {
	Entries  []ReconciliationEntry `json:"entries"`
	Balanced bool                  `json:"balanced"`
}

// Drifted returns the entries whose drift is non-zero.
func (r ReconciliationReport) Drifted() []ReconciliationEntry {
	var out []ReconciliationEntry
	for _, e := range r.Entries {
		if e.Drift != 0 {
			out = append(out, e)
		}
	}
	return out
}

// Reconcile checks quantity == seeded + sum(movements) for every stock record.
func (s *Service) Reconcile(ctx context.Context) (ReconciliationReport, error) {
	stocks, err := s.store.ListStocks(ctx)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("reconcile: list stocks: %w", err)
	}
	totals, err := s.store.MovementTotals(ctx)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("reconcile: movement totals: %w", err)
	}
	report := ReconciliationReport{Entries: make([]ReconciliationEntry, 0, len(stocks)), Balanced: true}
	for _, rec := range stocks {
		key := rec.Key()
		entry := ReconciliationEntry{
			Key:           key,
			ProductID:     key.ProductID,
			WarehouseID:   key.WarehouseID,
			Seeded:        rec.Seeded,
			Quantity:      rec.Quantity,
			MovementTotal: totals[key],
		}
		entry.Drift = rec.Quantity - (rec.Seeded + entry.MovementTotal)
		if entry.Drift != 0 {
			report.Balanced = false
			s.logger.Warn("stock drift detected", "product_id", key.ProductID, "warehouse_id", key.WarehouseID, "drift", entry.Drift)
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}
