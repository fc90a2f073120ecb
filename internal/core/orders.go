package core

import (
	"time"

	"stockcore/pkg/domain"
)

// OrderStore persists orders and line items within the caller's transaction.
type OrderStore struct {
	tx domain.Transaction
}

// NewOrderStore binds an order store to tx.
func NewOrderStore(tx domain.Transaction) *OrderStore {
	return &OrderStore{tx: tx}
}

// Lock returns the order with its items, holding its row lock until the
// transaction ends.
func (s *OrderStore) Lock(id int64) (domain.Order, error) {
	return s.tx.LockOrder(id)
}

// Create inserts an active order with one line item per requested product.
func (s *OrderStore) Create(customer string, warehouseID int64, items []domain.ItemSpec, now time.Time) (domain.Order, error) {
	return s.tx.InsertOrder(domain.Order{
		Customer:    customer,
		WarehouseID: warehouseID,
		Status:      domain.OrderStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       lineItems(items),
	})
}

// ReplaceItems deletes the order's line items and inserts items in their place.
func (s *OrderStore) ReplaceItems(order domain.Order, items []domain.ItemSpec, now time.Time) (domain.Order, error) {
	if _, err := s.tx.ReplaceItems(order.ID, lineItems(items)); err != nil {
		return domain.Order{}, err
	}
	order.UpdatedAt = now
	return s.tx.SaveOrder(order)
}

// SetCustomer renames the order's customer.
func (s *OrderStore) SetCustomer(order domain.Order, customer string, now time.Time) (domain.Order, error) {
	order.Customer = customer
	order.UpdatedAt = now
	return s.tx.SaveOrder(order)
}

// SetStatus moves the order to status. A nil completedAt keeps the stored value.
func (s *OrderStore) SetStatus(order domain.Order, status domain.OrderStatus, completedAt *time.Time, now time.Time) (domain.Order, error) {
	order.Status = status
	if completedAt != nil {
		order.CompletedAt = completedAt
	}
	order.UpdatedAt = now
	return s.tx.SaveOrder(order)
}

func lineItems(items []domain.ItemSpec) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.LineItem{ProductID: it.ProductID, Count: it.Count})
	}
	return out
}

func itemSpecs(items []domain.LineItem) []domain.ItemSpec {
	out := make([]domain.ItemSpec, 0, len(items))
	for _, it := range items {
		out = append(out, domain.ItemSpec{ProductID: it.ProductID, Count: it.Count})
	}
	return out
}
