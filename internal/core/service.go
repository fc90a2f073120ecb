package core

import (
	"context"
	"errors"
	"time"

	"stockcore/internal/infra/persistence/memory"
	"stockcore/pkg/domain"
)

// Service is the order lifecycle engine. Every lifecycle operation runs in one
// store transaction.
type Service struct {
	store   domain.PersistentStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	events  EventPublisher
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   ClockFunc(time.Now),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		events:  noopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine falls back to NewDefaultRulesEngine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// now truncates to microseconds, the finest resolution every backend keeps.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) (*OrderEvent, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	event, err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	if err != nil {
		s.logFailure(op, err)
		return err
	}
	event.OccurredAt = s.now()
	s.logger.Info("order lifecycle operation committed",
		"operation", op, "order_id", event.Order.ID, "status", string(event.Order.Status), "movements", len(event.Movements))
	if pubErr := s.events.Publish(ctx, *event); pubErr != nil {
		s.logger.Error("publish lifecycle event failed", "operation", op, "order_id", event.Order.ID, "error", pubErr)
	}
	return nil
}

func (s *Service) logFailure(op string, err error) {
	var (
		stock     domain.InsufficientStockError
		state     domain.OrderStateError
		invalid   domain.ValidationError
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &stock):
		s.logger.Info("reservation rejected", "operation", op, "product_id", stock.ProductID, "warehouse_id", stock.WarehouseID, "requested", stock.Requested)
	case errors.As(err, &state):
		s.logger.Info("transition rejected", "operation", op, "order_id", state.OrderID, "status", string(state.Status))
	case errors.As(err, &invalid), errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("request rejected", "operation", op, "error", err)
	case domain.IsRetryable(err):
		s.logger.Warn("transaction aborted, retryable", "operation", op, "error", err)
	case errors.As(err, &violation):
		s.logger.Error("transaction blocked by rules", "operation", op, "violations", len(violation.Result.Violations))
	default:
		s.logger.Error("order lifecycle operation failed", "operation", op, "error", err)
	}
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns a page of orders and the total match count.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter, page domain.Page) ([]domain.Order, int, error) {
	return s.store.ListOrders(ctx, filter, page)
}

// ListMovements returns a page of stock movements, newest first.
func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter, page domain.Page) ([]domain.StockMovement, int, error) {
	return s.store.ListMovements(ctx, filter, page)
}

// ListWarehouses returns every warehouse.
func (s *Service) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	return s.store.ListWarehouses(ctx)
}

// GetWarehouse looks up a warehouse.
func (s *Service) GetWarehouse(ctx context.Context, id int64) (domain.Warehouse, bool, error) {
	return s.store.GetWarehouse(ctx, id)
}

// GetProduct looks up a product.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, bool, error) {
	return s.store.GetProduct(ctx, id)
}

// ListProductStocks joins every product with its stock per warehouse.
func (s *Service) ListProductStocks(ctx context.Context) ([]domain.ProductStock, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	warehouses, err := s.store.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}
	stocks, err := s.store.ListStocks(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(warehouses))
	for _, w := range warehouses {
		names[w.ID] = w.Name
	}
	byProduct := make(map[int64][]domain.WarehouseStock, len(products))
	for _, r := range stocks {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], domain.WarehouseStock{
			WarehouseID:   r.WarehouseID,
			WarehouseName: names[r.WarehouseID],
			Stock:         r.Quantity,
		})
	}
	out := make([]domain.ProductStock, 0, len(products))
	for _, p := range products {
		entry := domain.ProductStock{Product: p, Stocks: byProduct[p.ID]}
		if entry.Stocks == nil {
			entry.Stocks = []domain.WarehouseStock{}
		}
		out = append(out, entry)
	}
	return out, nil
}
