package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stockcore/pkg/domain"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
)

type errorBody struct {
	Error       string `json:"error"`
	Field       string `json:"field,omitempty"`
	OrderID     int64  `json:"order_id,omitempty"`
	ProductID   int64  `json:"product_id,omitempty"`
	WarehouseID int64  `json:"warehouse_id,omitempty"`
	Requested   int    `json:"requested,omitempty"`
	Available   *int   `json:"available,omitempty"`
}

type envelope[T any] struct {
	Data        []T `json:"data"`
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

func paginated[T any](items []T, page domain.Page, total int) envelope[T] {
	if items == nil {
		items = []T{}
	}
	last := int(math.Ceil(float64(total) / float64(page.Size)))
	if last < 1 {
		last = 1
	}
	return envelope[T]{Data: items, CurrentPage: page.Number, PerPage: page.Size, Total: total, LastPage: last}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps lifecycle errors onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		stock   domain.InsufficientStockError
		state   domain.OrderStateError
		invalid domain.ValidationError
	)
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:       stock.Error(),
			ProductID:   stock.ProductID,
			WarehouseID: stock.WarehouseID,
			Requested:   stock.Requested,
			Available:   stock.Available,
		})
	case errors.As(err, &state):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: state.Unwrap().Error(), OrderID: state.OrderID})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: invalid.Error(), Field: invalid.Field})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage busy, retry the request")
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

var errEmptyBody = domain.ValidationError{Reason: "request body is required"}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return domain.ValidationError{Reason: "malformed JSON body: " + err.Error()}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NotFoundError{Entity: domain.EntityOrder, ID: raw}
	}
	return id, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	q := r.URL.Query()
	page := domain.Page{Number: 1, Size: defaultPerPage}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, domain.ValidationError{Field: "page", Reason: "must be a positive integer"}
		}
		page.Number = n
	}
	if raw := q.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPerPage {
			return page, domain.ValidationError{Field: "per_page", Reason: "must be between 1 and 100"}
		}
		page.Size = n
	}
	return page, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}
