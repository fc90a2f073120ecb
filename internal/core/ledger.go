package core

import (
	"errors"
	"fmt"
	"sort"

	"stockcore/pkg/domain"
)

// ErrStockRecordMissing is returned when stock is returned to a pair that has
// no stock record. Records are never created lazily.
var ErrStockRecordMissing = errors.New("stock record missing")

// StockLedger mutates per (product, warehouse) quantities inside one
// transaction. Decrement is only allowed for quantities previously validated
// by LockAndCheck on the same ledger.
type StockLedger struct {
	tx        domain.Transaction
	allowance map[domain.StockKey]int
}

// NewStockLedger binds a ledger to tx.
func NewStockLedger(tx domain.Transaction) *StockLedger {
	return &StockLedger{tx: tx, allowance: make(map[domain.StockKey]int)}
}

// Lock takes exclusive locks on keys in key order. Missing records are skipped.
func (l *StockLedger) Lock(keys ...domain.StockKey) error {
	sorted := sortKeys(keys)
	for _, key := range sorted {
		if _, _, err := l.tx.LockStock(key); err != nil {
			return err
		}
	}
	return nil
}

// LockAndCheck locks the record and verifies at least required units are
// available. The validated quantity becomes the Decrement allowance for key.
func (l *StockLedger) LockAndCheck(key domain.StockKey, required int) (domain.StockRecord, error) {
	rec, ok, err := l.tx.LockStock(key)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if !ok {
		return domain.StockRecord{}, domain.InsufficientStockError{ProductID: key.ProductID, WarehouseID: key.WarehouseID, Requested: required}
	}
	if rec.Quantity < required {
		available := rec.Quantity
		return domain.StockRecord{}, domain.InsufficientStockError{ProductID: key.ProductID, WarehouseID: key.WarehouseID, Requested: required, Available: &available}
	}
	l.allowance[key] = required
	return rec, nil
}

// Decrement removes qty units from a record checked by LockAndCheck.
func (l *StockLedger) Decrement(key domain.StockKey, qty int) (domain.StockRecord, error) {
	left, ok := l.allowance[key]
	if !ok {
		return domain.StockRecord{}, fmt.Errorf("decrement stock %s: %w", key, domain.ErrStockNotLocked)
	}
	if qty > left {
		return domain.StockRecord{}, fmt.Errorf("decrement stock %s: %d exceeds checked quantity %d", key, qty, left)
	}
	rec, err := l.tx.AdjustStock(key, -qty)
	if err != nil {
		return domain.StockRecord{}, err
	}
	l.allowance[key] = left - qty
	return rec, nil
}

// Increment returns qty units to a record, locking it first.
func (l *StockLedger) Increment(key domain.StockKey, qty int) (domain.StockRecord, error) {
	_, ok, err := l.tx.LockStock(key)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if !ok {
		return domain.StockRecord{}, fmt.Errorf("increment stock %s: %w", key, ErrStockRecordMissing)
	}
	return l.tx.AdjustStock(key, qty)
}

func sortKeys(keys []domain.StockKey) []domain.StockKey {
	seen := make(map[domain.StockKey]struct{}, len(keys))
	out := make([]domain.StockKey, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
