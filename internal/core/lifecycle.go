package core

import (
	"context"

	"stockcore/pkg/domain"
)

// unitOfWork groups the collaborators a lifecycle operation uses inside one
// transaction.
type unitOfWork struct {
	ledger    *StockLedger
	movements *MovementRecorder
	orders    *OrderStore
}

func (s *Service) unit(tx domain.Transaction) *unitOfWork {
	return &unitOfWork{
		ledger:    NewStockLedger(tx),
		movements: NewMovementRecorder(tx, s.now),
		orders:    NewOrderStore(tx),
	}
}

// checkAvailability locks every key the items touch, in key order, and checks
// the combined demand per key. Repeated products add up.
func (u *unitOfWork) checkAvailability(warehouseID int64, items []domain.ItemSpec) error {
	demand := make(map[domain.StockKey]int, len(items))
	keys := make([]domain.StockKey, 0, len(items))
	for _, it := range items {
		key := domain.StockKey{ProductID: it.ProductID, WarehouseID: warehouseID}
		demand[key] += it.Count
		keys = append(keys, key)
	}
	for _, key := range sortKeys(keys) {
		if _, err := u.ledger.LockAndCheck(key, demand[key]); err != nil {
			return err
		}
	}
	return nil
}

// take decrements stock for each item and records a movement per item.
func (u *unitOfWork) take(orderID, warehouseID int64, items []domain.ItemSpec, kind domain.MovementType) error {
	for _, it := range items {
		key := domain.StockKey{ProductID: it.ProductID, WarehouseID: warehouseID}
		if _, err := u.ledger.Decrement(key, it.Count); err != nil {
			return err
		}
		if _, err := u.movements.Record(key, -it.Count, kind, orderID); err != nil {
			return err
		}
	}
	return nil
}

// giveBack returns stock for each item and records a movement per item.
func (u *unitOfWork) giveBack(order domain.Order, kind domain.MovementType) error {
	keys := make([]domain.StockKey, 0, len(order.Items))
	for _, it := range order.Items {
		keys = append(keys, domain.StockKey{ProductID: it.ProductID, WarehouseID: order.WarehouseID})
	}
	if err := u.ledger.Lock(keys...); err != nil {
		return err
	}
	for i, it := range order.Items {
		if _, err := u.ledger.Increment(keys[i], it.Count); err != nil {
			return err
		}
		if _, err := u.movements.Record(keys[i], it.Count, kind, order.ID); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrder reserves stock for every item and opens an active order. Any
// shortage aborts the whole operation.
func (s *Service) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	var created domain.Order
	err := s.run(ctx, "create_order", func(ctx context.Context) (*OrderEvent, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		var recorded []domain.StockMovement
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			u := s.unit(tx)
			if err := u.checkAvailability(in.WarehouseID, in.Items); err != nil {
				return err
			}
			order, err := u.orders.Create(in.Customer, in.WarehouseID, in.Items, s.now())
			if err != nil {
				return err
			}
			if err := u.take(order.ID, order.WarehouseID, in.Items, domain.MovementOrderCreated); err != nil {
				return err
			}
			created, recorded = order, u.movements.Recorded()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &OrderEvent{Type: EventOrderCreated, Order: created, Movements: recorded}, nil
	})
	return created, err
}

// UpdateOrder renames the customer and/or replaces the items of an active
// order. Replacement returns every old item before reserving the new ones.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in domain.UpdateOrderInput) (domain.Order, error) {
	var updated domain.Order
	err := s.run(ctx, "update_order", func(ctx context.Context) (*OrderEvent, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		var recorded []domain.StockMovement
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			u := s.unit(tx)
			order, err := u.orders.Lock(id)
			if err != nil {
				return err
			}
			if _, err := domain.NextStatus(domain.OpUpdate, order); err != nil {
				return err
			}
			if in.Customer != nil {
				if order, err = u.orders.SetCustomer(order, *in.Customer, s.now()); err != nil {
					return err
				}
			}
			if in.HasItems() {
				keys := make([]domain.StockKey, 0, len(order.Items)+len(in.Items))
				for _, it := range order.Items {
					keys = append(keys, domain.StockKey{ProductID: it.ProductID, WarehouseID: order.WarehouseID})
				}
				for _, it := range in.Items {
					keys = append(keys, domain.StockKey{ProductID: it.ProductID, WarehouseID: order.WarehouseID})
				}
				if err := u.ledger.Lock(keys...); err != nil {
					return err
				}
				if err := u.giveBack(order, domain.MovementOrderUpdated); err != nil {
					return err
				}
				if err := u.checkAvailability(order.WarehouseID, in.Items); err != nil {
					return err
				}
				if order, err = u.orders.ReplaceItems(order, in.Items, s.now()); err != nil {
					return err
				}
				if err := u.take(order.ID, order.WarehouseID, in.Items, domain.MovementOrderUpdated); err != nil {
					return err
				}
			}
			updated, recorded = order, u.movements.Recorded()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &OrderEvent{Type: EventOrderUpdated, Order: updated, Movements: recorded}, nil
	})
	return updated, err
}

// CancelOrder returns all reserved stock and marks the order canceled. Active
// and completed orders can be canceled.
func (s *Service) CancelOrder(ctx context.Context, id int64) error {
	return s.run(ctx, "cancel_order", func(ctx context.Context) (*OrderEvent, error) {
		var event OrderEvent
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			u := s.unit(tx)
			order, err := u.orders.Lock(id)
			if err != nil {
				return err
			}
			next, err := domain.NextStatus(domain.OpCancel, order)
			if err != nil {
				return err
			}
			if err := u.giveBack(order, domain.MovementOrderCanceled); err != nil {
				return err
			}
			if order, err = u.orders.SetStatus(order, next, nil, s.now()); err != nil {
				return err
			}
			event = OrderEvent{Type: EventOrderCanceled, Order: order, Movements: u.movements.Recorded()}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &event, nil
	})
}

// ResumeOrder re-reserves the items of a canceled order. A shortage on any
// item leaves the order canceled.
func (s *Service) ResumeOrder(ctx context.Context, id int64) error {
	return s.run(ctx, "resume_order", func(ctx context.Context) (*OrderEvent, error) {
		var event OrderEvent
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			u := s.unit(tx)
			order, err := u.orders.Lock(id)
			if err != nil {
				return err
			}
			next, err := domain.NextStatus(domain.OpResume, order)
			if err != nil {
				return err
			}
			items := itemSpecs(order.Items)
			if err := u.checkAvailability(order.WarehouseID, items); err != nil {
				return err
			}
			if err := u.take(order.ID, order.WarehouseID, items, domain.MovementOrderResumed); err != nil {
				return err
			}
			if order, err = u.orders.SetStatus(order, next, nil, s.now()); err != nil {
				return err
			}
			event = OrderEvent{Type: EventOrderResumed, Order: order, Movements: u.movements.Recorded()}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &event, nil
	})
}

// CompleteOrder marks an active order completed. Stock is not touched.
func (s *Service) CompleteOrder(ctx context.Context, id int64) error {
	return s.run(ctx, "complete_order", func(ctx context.Context) (*OrderEvent, error) {
		var event OrderEvent
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			orders := NewOrderStore(tx)
			order, err := orders.Lock(id)
			if err != nil {
				return err
			}
			next, err := domain.NextStatus(domain.OpComplete, order)
			if err != nil {
				return err
			}
			now := s.now()
			if order, err = orders.SetStatus(order, next, &now, now); err != nil {
				return err
			}
			event = OrderEvent{Type: EventOrderCompleted, Order: order}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &event, nil
	})
}
