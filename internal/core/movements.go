package core

import (
	"fmt"
	"time"

	"stockcore/pkg/domain"
)

// MovementRecorder appends audit entries in the same transaction as the
// ledger change they describe.
type MovementRecorder struct {
	tx       domain.Transaction
	now      func() time.Time
	recorded []domain.StockMovement
}

// NewMovementRecorder binds a recorder to tx.
func NewMovementRecorder(tx domain.Transaction, now func() time.Time) *MovementRecorder {
	return &MovementRecorder{tx: tx, now: now}
}

// Record appends one movement. orderID of zero leaves the reference empty.
func (r *MovementRecorder) Record(key domain.StockKey, delta int, kind domain.MovementType, orderID int64) (domain.StockMovement, error) {
	if delta == 0 {
		return domain.StockMovement{}, fmt.Errorf("record movement %s: zero quantity change", key)
	}
	if !kind.Valid() {
		return domain.StockMovement{}, fmt.Errorf("record movement %s: unknown type %q", key, kind)
	}
	m := domain.StockMovement{
		ProductID:      key.ProductID,
		WarehouseID:    key.WarehouseID,
		QuantityChange: delta,
		Type:           kind,
		CreatedAt:      r.now(),
	}
	if orderID != 0 {
		m.OrderID = &orderID
	}
	stored, err := r.tx.AppendMovement(m)
	if err != nil {
		return domain.StockMovement{}, err
	}
	r.recorded = append(r.recorded, stored)
	return stored, nil
}

// Recorded returns the movements appended so far.
func (r *MovementRecorder) Recorded() []domain.StockMovement {
	return append([]domain.StockMovement(nil), r.recorded...)
}
