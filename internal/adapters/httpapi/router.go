// Package httpapi exposes the order lifecycle over JSON HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockcore/internal/adapters/idempotency"
	"stockcore/internal/audit"
	"stockcore/internal/core"
	"stockcore/pkg/domain"
)

// Service is the lifecycle and read surface the handlers call.
type Service interface {
	CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
	UpdateOrder(ctx context.Context, id int64, in domain.UpdateOrderInput) (domain.Order, error)
	CancelOrder(ctx context.Context, id int64) error
	ResumeOrder(ctx context.Context, id int64) error
	CompleteOrder(ctx context.Context, id int64) error
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter, page domain.Page) ([]domain.StockMovement, int, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	GetWarehouse(ctx context.Context, id int64) (domain.Warehouse, bool, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, bool, error)
	ListProductStocks(ctx context.Context) ([]domain.ProductStock, error)
	Reconcile(ctx context.Context) (core.ReconciliationReport, error)
}

var _ Service = (*core.Service)(nil)

// Exports schedules audit exports.
type Exports interface {
	Enqueue(ctx context.Context, req audit.Request) (audit.Export, error)
	Get(id string) (audit.Export, bool)
}

// Options wires the router's collaborators. Service is required.
type Options struct {
	Service     Service
	Exports     Exports
	Idempotency idempotency.Store
	Logger      core.Logger
	Metrics     http.Handler
	// Ready reports dependency health for /healthz.
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
}

// Handler serves the JSON API.
type Handler struct {
	svc     Service
	exports Exports
	logger  core.Logger
}

// NewRouter builds the chi router for the API, /healthz and /metrics.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &Handler{svc: opts.Service, exports: opts.Exports, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/warehouses", h.listWarehouses)
		r.Get("/products-with-stocks", h.listProductStocks)
		r.Get("/stock-movements", h.listMovements)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			if opts.Idempotency != nil {
				r.With(idempotency.Middleware(opts.Idempotency, logger)).Post("/", h.createOrder)
			} else {
				r.Post("/", h.createOrder)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Put("/", h.updateOrder)
				r.Post("/complete", h.completeOrder)
				r.Post("/cancel", h.cancelOrder)
				r.Post("/resume", h.resumeOrder)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/reconciliation", h.reconcile)
			r.Post("/exports", h.createExport)
			r.Get("/exports/{id}", h.getExport)
		})
	})
	return r
}

func requestLogger(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
