package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"stockcore/pkg/domain"
)

type dataBody struct {
	Data any `json:"data"`
}

type messageBody struct {
	Message string `json:"message"`
	OrderID int64  `json:"order_id"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	filter := domain.OrderFilter{Customer: strings.TrimSpace(r.URL.Query().Get("customer"))}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if filter.Status, err = domain.ParseOrderStatus(raw); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if filter.WarehouseID, err = queryID(r, "warehouse_id"); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.requireWarehouse(r.Context(), filter.WarehouseID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	orders, total, err := h.svc.ListOrders(r.Context(), filter, page)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(orders, page, total))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateOrderInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := in.Validate(); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.requireWarehouse(r.Context(), in.WarehouseID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.requireProducts(r.Context(), in.Items); err != nil {
		h.writeDomainError(w, err)
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: order})
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var in domain.UpdateOrderInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := in.Validate(); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.requireProducts(r.Context(), in.Items); err != nil {
		h.writeDomainError(w, err)
		return
	}
	order, err := h.svc.UpdateOrder(r.Context(), id, in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: order})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CompleteOrder, "order completed")
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelOrder, "order canceled")
}

func (h *Handler) resumeOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.ResumeOrder, "order resumed")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) error, message string) {
	id, err := pathID(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: message, OrderID: id})
}

// requireWarehouse rejects an id that names no warehouse. Zero passes.
func (h *Handler) requireWarehouse(ctx context.Context, id int64) error {
	if id == 0 {
		return nil
	}
	_, ok, err := h.svc.GetWarehouse(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ValidationError{Field: "warehouse_id", Reason: fmt.Sprintf("warehouse %d does not exist", id)}
	}
	return nil
}

func (h *Handler) requireProducts(ctx context.Context, items []domain.ItemSpec) error {
	for i, it := range items {
		_, ok, err := h.svc.GetProduct(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ValidationError{Field: fmt.Sprintf("items.%d.product_id", i), Reason: fmt.Sprintf("product %d does not exist", it.ProductID)}
		}
	}
	return nil
}
