package domain

type transition struct {
	from map[OrderStatus]struct{}
	to   OrderStatus
}

// Create has no source state and is handled by the engine directly.
var orderTransitions = map[LifecycleOp]transition{
	OpUpdate:   {from: statusSet(OrderStatusActive), to: OrderStatusActive},
	OpCancel:   {from: statusSet(OrderStatusActive, OrderStatusCompleted), to: OrderStatusCanceled},
	OpResume:   {from: statusSet(OrderStatusCanceled), to: OrderStatusActive},
	OpComplete: {from: statusSet(OrderStatusActive), to: OrderStatusCompleted},
}

// NextStatus returns the status an order ends in after op, or an
// OrderStateError when op is not allowed from the current status.
func NextStatus(op LifecycleOp, order Order) (OrderStatus, error) {
	t, ok := orderTransitions[op]
	if !ok {
		return order.Status, OrderStateError{Op: op, OrderID: order.ID, Status: order.Status}
	}
	if _, ok := t.from[order.Status]; !ok {
		return order.Status, OrderStateError{Op: op, OrderID: order.ID, Status: order.Status}
	}
	return t.to, nil
}

func statusSet(states ...OrderStatus) map[OrderStatus]struct{} {
	out := make(map[OrderStatus]struct{}, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}
