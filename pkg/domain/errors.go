package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCannotCancelOrder   = errors.New("order cannot be canceled")
	ErrCannotResumeOrder   = errors.New("order cannot be resumed")
	ErrCannotCompleteOrder = errors.New("order cannot be completed")
	ErrCannotUpdateOrder   = errors.New("order cannot be updated")
	ErrNotFound            = errors.New("not found")
	ErrLockTimeout         = errors.New("lock wait timeout")
	ErrStockNotLocked      = errors.New("stock record not locked in transaction")
)

// InsufficientStockError reports a failed reservation check. Available is nil
// when no stock record exists for the pair.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Requested   int
	Available   *int
}

func (e InsufficientStockError) Error() string {
	if e.Available == nil {
		return fmt.Sprintf("insufficient stock for product %d in warehouse %d: requested %d, no stock record", e.ProductID, e.WarehouseID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %d in warehouse %d: requested %d, available %d", e.ProductID, e.WarehouseID, e.Requested, *e.Available)
}

// Unwrap allows errors.Is(err, ErrInsufficientStock).
func (e InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// LifecycleOp names an order lifecycle operation.
type LifecycleOp string

// Lifecycle operations.
const (
	OpCreate   LifecycleOp = "create"
	OpUpdate   LifecycleOp = "update"
	OpCancel   LifecycleOp = "cancel"
	OpResume   LifecycleOp = "resume"
	OpComplete LifecycleOp = "complete"
)

// OrderStateError is a rejected state transition. No side effects occurred.
type OrderStateError struct {
	Op      LifecycleOp
	OrderID int64
	Status  OrderStatus
}

func (e OrderStateError) Error() string {
	return fmt.Sprintf("%s: order %d has status %s", e.Unwrap().Error(), e.OrderID, e.Status)
}

// Unwrap maps the operation onto its sentinel.
func (e OrderStateError) Unwrap() error {
	switch e.Op {
	case OpCancel:
		return ErrCannotCancelOrder
	case OpResume:
		return ErrCannotResumeOrder
	case OpComplete:
		return ErrCannotCompleteOrder
	default:
		return ErrCannotUpdateOrder
	}
}

// NotFoundError indicates a missing record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Unwrap allows errors.Is(err, ErrNotFound).
func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError rejects malformed input before any transaction starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TransientError wraps a storage failure that is safe to retry, such as a
// lock timeout, a deadlock or a serialization failure.
type TransientError struct {
	Op  string
	Err error
}

func (e TransientError) Error() string {
	if e.Op == "" {
		return "transient storage failure: " + e.Err.Error()
	}
	return fmt.Sprintf("transient storage failure during %s: %v", e.Op, e.Err)
}

func (e TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether err, or anything it wraps, is a TransientError.
func IsRetryable(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}
