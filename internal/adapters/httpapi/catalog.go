package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stockcore/internal/audit"
	"stockcore/pkg/domain"
)

const dateLayout = "2006-01-02"

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.svc.ListWarehouses(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if warehouses == nil {
		warehouses = []domain.Warehouse{}
	}
	writeJSON(w, http.StatusOK, dataBody{Data: warehouses})
}

func (h *Handler) listProductStocks(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.ListProductStocks(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: products})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	filter, err := h.movementFilter(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	movements, total, err := h.svc.ListMovements(r.Context(), filter, page)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(movements, page, total))
}

// movementFilter parses product_id, warehouse_id, order_id and the inclusive
// from/to day range.
func (h *Handler) movementFilter(r *http.Request) (domain.MovementFilter, error) {
	var (
		filter domain.MovementFilter
		err    error
	)
	if filter.ProductID, err = queryID(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.ProductID != 0 {
		_, ok, err := h.svc.GetProduct(r.Context(), filter.ProductID)
		if err != nil {
			return filter, err
		}
		if !ok {
			return filter, domain.ValidationError{Field: "product_id", Reason: "product does not exist"}
		}
	}
	if filter.WarehouseID, err = queryID(r, "warehouse_id"); err != nil {
		return filter, err
	}
	if err := h.requireWarehouse(r.Context(), filter.WarehouseID); err != nil {
		return filter, err
	}
	if filter.OrderID, err = queryID(r, "order_id"); err != nil {
		return filter, err
	}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			return filter, domain.ValidationError{Field: "from", Reason: "must be a date (YYYY-MM-DD)"}
		}
		filter.From = &day
	}
	if raw := q.Get("to"); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			return filter, domain.ValidationError{Field: "to", Reason: "must be a date (YYYY-MM-DD)"}
		}
		if filter.From != nil && day.Before(*filter.From) {
			return filter, domain.ValidationError{Field: "to", Reason: "must not be before from"}
		}
		end := day.Add(24*time.Hour - time.Microsecond)
		filter.To = &end
	}
	return filter, nil
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: report})
}

type exportRequest struct {
	Format string `json:"format"`
}

func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "audit exports are not configured")
		return
	}
	var body exportRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeDomainError(w, err)
		return
	}
	format, err := audit.ParseFormat(body.Format)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	filter, err := h.movementFilter(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	record, err := h.exports.Enqueue(r.Context(), audit.Request{Format: format, Filter: filter})
	if err != nil {
		if errors.Is(err, audit.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dataBody{Data: record})
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotFound, "audit exports are not configured")
		return
	}
	record, ok := h.exports.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: record})
}
