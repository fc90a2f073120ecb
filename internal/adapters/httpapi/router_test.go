package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockcore/internal/adapters/idempotency"
	"stockcore/internal/audit"
	"stockcore/internal/core"
	"stockcore/internal/infra/blob/memory"
	"stockcore/internal/platform/observability"
	"stockcore/pkg/domain"
)

type apiFixture struct {
	t      *testing.T
	svc    *core.Service
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	metrics := observability.NewPrometheusRecorder()
	svc := core.NewInMemoryService(nil, core.WithMetricsRecorder(metrics))
	err := svc.Seed(context.Background(), domain.Catalog{
		Warehouses: []domain.Warehouse{{ID: 1, Name: "Main"}, {ID: 2, Name: "Overflow"}},
		Products: []domain.Product{
			{ID: 1, Name: "Widget", Price: decimal.RequireFromString("100.50")},
			{ID: 2, Name: "Gadget", Price: decimal.RequireFromString("250.00")},
		},
		Stocks: []domain.StockRecord{
			{ProductID: 1, WarehouseID: 1, Quantity: 20},
			{ProductID: 2, WarehouseID: 1, Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	worker := audit.NewWorker(svc, memory.New(), audit.WithPrefix("exports/"))
	worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = worker.Stop(ctx)
	})
	router := NewRouter(Options{
		Service:     svc,
		Exports:     worker,
		Idempotency: idempotency.NewMemoryStore(time.Hour),
		Metrics:     metrics.Handler(),
	})
	return &apiFixture{t: t, svc: svc, router: router}
}

func (f *apiFixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *apiFixture) stock(productID, warehouseID int64) int {
	f.t.Helper()
	rec, ok, err := f.svc.Store().GetStock(context.Background(), domain.StockKey{ProductID: productID, WarehouseID: warehouseID})
	if err != nil || !ok {
		f.t.Fatalf("stock %d:%d: %v %v", productID, warehouseID, ok, err)
	}
	return rec.Quantity
}

func orderBody(items ...domain.ItemSpec) map[string]any {
	return map[string]any{"customer": "acme", "warehouse_id": 1, "items": items}
}

func TestCreateAndFetchOrder(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 12}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	order := decodeBody[domain.Order](t, rec)
	if order.Status != domain.OrderStatusActive || len(order.Items) != 1 {
		t.Fatalf("unexpected order %+v", order)
	}
	if got := f.stock(1, 1); got != 8 {
		t.Fatalf("stock after create = %d, want 8", got)
	}
	rec = f.do(http.MethodGet, "/api/orders/"+itoa(order.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	got := decodeBody[struct{ Data domain.Order }](t, rec)
	if got.Data.ID != order.ID || got.Data.Customer != "acme" {
		t.Fatalf("unexpected fetched order %+v", got.Data)
	}
	if rec := f.do(http.MethodGet, "/api/orders/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/orders/abc", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("bad id: %d", rec.Code)
	}
}

func TestCreateOrderRejections(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 5}, domain.ItemSpec{ProductID: 2, Count: 6}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("shortage: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	if body.ProductID != 2 || body.Requested != 6 || body.Available == nil || *body.Available != 5 {
		t.Fatalf("unexpected shortage body %+v", body)
	}
	if got := f.stock(1, 1); got != 20 {
		t.Fatalf("failed create must not touch stock, got %d", got)
	}

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"missing warehouse", map[string]any{"customer": "acme", "warehouse_id": 9, "items": []domain.ItemSpec{{ProductID: 1, Count: 1}}}, "warehouse_id"},
		{"unknown product", orderBody(domain.ItemSpec{ProductID: 42, Count: 1}), "items.0.product_id"},
		{"zero count", orderBody(domain.ItemSpec{ProductID: 1, Count: 0}), "items.0.count"},
		{"no items", orderBody(), "items"},
		{"blank customer", map[string]any{"customer": " ", "warehouse_id": 1, "items": []domain.ItemSpec{{ProductID: 1, Count: 1}}}, "customer"},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, "/api/orders", tc.body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: status %d %s", tc.name, rec.Code, rec.Body.String())
		}
		if got := decodeBody[errorBody](t, rec); got.Field != tc.field {
			t.Fatalf("%s: field %q, want %q", tc.name, got.Field, tc.field)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	if raw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed body: %d", raw.Code)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newAPIFixture(t)
	order := decodeBody[domain.Order](t, f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 12})))
	base := "/api/orders/" + itoa(order.ID)

	if rec := f.do(http.MethodPost, base+"/resume", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("resume active: %d", rec.Code)
	} else if body := decodeBody[errorBody](t, rec); body.OrderID != order.ID {
		t.Fatalf("state error should carry order id: %+v", body)
	}
	if rec := f.do(http.MethodPost, base+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	if got := f.stock(1, 1); got != 20 {
		t.Fatalf("stock after cancel = %d", got)
	}
	if rec := f.do(http.MethodPost, base+"/cancel", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("double cancel: %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, base+"/resume", nil); rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, base+"/complete", nil); rec.Code != http.StatusOK {
		t.Fatalf("complete: %d", rec.Code)
	}
	if rec := f.do(http.MethodPut, base, map[string]any{"customer": "other"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("update completed: %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, base+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel completed: %d", rec.Code)
	}
	fetched := decodeBody[struct{ Data domain.Order }](t, f.do(http.MethodGet, base, nil)).Data
	if fetched.Status != domain.OrderStatusCanceled || fetched.CompletedAt == nil {
		t.Fatalf("unexpected final order %+v", fetched)
	}
	if rec := f.do(http.MethodPost, "/api/orders/77/complete", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("complete unknown: %d", rec.Code)
	}
}

func TestUpdateOrder(t *testing.T) {
	f := newAPIFixture(t)
	order := decodeBody[domain.Order](t, f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 8})))
	base := "/api/orders/" + itoa(order.ID)

	rec := f.do(http.MethodPut, base, map[string]any{"items": []domain.ItemSpec{{ProductID: 1, Count: 11}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[struct{ Data domain.Order }](t, rec).Data
	if len(updated.Items) != 1 || updated.Items[0].Count != 11 {
		t.Fatalf("unexpected items %+v", updated.Items)
	}
	if got := f.stock(1, 1); got != 9 {
		t.Fatalf("stock after update = %d, want 9", got)
	}
	if rec := f.do(http.MethodPut, base, map[string]any{"items": []domain.ItemSpec{}}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty items: %d", rec.Code)
	}
	if rec := f.do(http.MethodPut, base, map[string]any{"items": []domain.ItemSpec{{ProductID: 1, Count: 21}}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("update shortage: %d", rec.Code)
	}
	if got := f.stock(1, 1); got != 9 {
		t.Fatalf("failed update must roll back, stock = %d", got)
	}
}

func TestListOrdersPagination(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		if rec := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 1})); rec.Code != http.StatusCreated {
			t.Fatalf("create %d: %d", i, rec.Code)
		}
	}
	rec := f.do(http.MethodGet, "/api/orders?per_page=2&page=2&status=active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[envelope[domain.Order]](t, rec)
	if page.Total != 3 || page.LastPage != 2 || page.CurrentPage != 2 || page.PerPage != 2 || len(page.Data) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	empty := decodeBody[envelope[domain.Order]](t, f.do(http.MethodGet, "/api/orders?status=canceled", nil))
	if empty.Total != 0 || empty.Data == nil || empty.LastPage != 1 || empty.PerPage != defaultPerPage {
		t.Fatalf("unexpected empty page %+v", empty)
	}
	for _, q := range []string{"per_page=101", "per_page=0", "status=lost", "warehouse_id=9", "page=-1"} {
		if rec := f.do(http.MethodGet, "/api/orders?"+q, nil); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: %d", q, rec.Code)
		}
	}
}

func TestListMovementsFilters(t *testing.T) {
	f := newAPIFixture(t)
	order := decodeBody[domain.Order](t, f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 2}, domain.ItemSpec{ProductID: 2, Count: 1})))
	f.do(http.MethodPost, "/api/orders/"+itoa(order.ID)+"/cancel", nil)

	today := time.Now().UTC().Format(dateLayout)
	page := decodeBody[envelope[domain.StockMovement]](t, f.do(http.MethodGet, "/api/stock-movements?product_id=1&from="+today+"&to="+today, nil))
	if page.Total != 2 {
		t.Fatalf("expected 2 movements for product 1, got %+v", page)
	}
	if page.Data[0].ID < page.Data[1].ID {
		t.Fatalf("movements should be newest first: %+v", page.Data)
	}
	past := decodeBody[envelope[domain.StockMovement]](t, f.do(http.MethodGet, "/api/stock-movements?to=2000-01-01", nil))
	if past.Total != 0 {
		t.Fatalf("expected no movements before 2000, got %d", past.Total)
	}
	for _, q := range []string{"product_id=9", "warehouse_id=9", "from=yesterday", "from=2026-02-02&to=2026-02-01"} {
		if rec := f.do(http.MethodGet, "/api/stock-movements?"+q, nil); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: %d", q, rec.Code)
		}
	}
}

func TestCatalogEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	warehouses := decodeBody[struct{ Data []domain.Warehouse }](t, f.do(http.MethodGet, "/api/warehouses", nil))
	if len(warehouses.Data) != 2 {
		t.Fatalf("unexpected warehouses %+v", warehouses)
	}
	products := decodeBody[struct{ Data []domain.ProductStock }](t, f.do(http.MethodGet, "/api/products-with-stocks", nil))
	if len(products.Data) != 2 || len(products.Data[0].Stocks) != 1 || products.Data[0].Stocks[0].WarehouseName != "Main" {
		t.Fatalf("unexpected products %+v", products)
	}
}

func TestIdempotentCreate(t *testing.T) {
	f := newAPIFixture(t)
	first := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 3}), idempotency.Header, "order-1")
	second := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 3}), idempotency.Header, "order-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("statuses %d %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() || second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("second response should replay the first")
	}
	if got := f.stock(1, 1); got != 17 {
		t.Fatalf("replayed create must not reserve twice, stock = %d", got)
	}
}

func TestIdempotencyKeyReusedWithOtherOrder(t *testing.T) {
	f := newAPIFixture(t)
	first := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 3}), idempotency.Header, "order-2")
	other := f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 2, Count: 1}), idempotency.Header, "order-2")
	if first.Code != http.StatusCreated || other.Code != http.StatusUnprocessableEntity {
		t.Fatalf("statuses %d %d", first.Code, other.Code)
	}
	if got := f.stock(2, 1); got != 5 {
		t.Fatalf("rejected reuse must not reserve, stock = %d", got)
	}
}

func TestAuditEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 3}))

	report := decodeBody[struct{ Data core.ReconciliationReport }](t, f.do(http.MethodGet, "/api/audit/reconciliation", nil))
	if !report.Data.Balanced || len(report.Data.Entries) != 2 {
		t.Fatalf("unexpected report %+v", report.Data)
	}

	rec := f.do(http.MethodPost, "/api/audit/exports?product_id=1", map[string]string{"format": "json"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", rec.Code, rec.Body.String())
	}
	queued := decodeBody[struct{ Data audit.Export }](t, rec).Data
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := decodeBody[struct{ Data audit.Export }](t, f.do(http.MethodGet, "/api/audit/exports/"+queued.ID, nil)).Data
		if got.Status == audit.StatusSucceeded {
			if got.Rows != 1 || got.Format != audit.FormatJSON {
				t.Fatalf("unexpected export %+v", got)
			}
			break
		}
		if got.Status == audit.StatusFailed || time.Now().After(deadline) {
			t.Fatalf("export did not succeed: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec := f.do(http.MethodPost, "/api/audit/exports", map[string]string{"format": "xml"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad format: %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/audit/exports/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown export: %d", rec.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	if rec := f.do(http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	f.do(http.MethodPost, "/api/orders", orderBody(domain.ItemSpec{ProductID: 1, Count: 1}))
	rec := f.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stockcore_operations_total") {
		t.Fatalf("metrics: %d", rec.Code)
	}

	down := NewRouter(Options{Service: f.svc, Ready: func(context.Context) error { return context.DeadlineExceeded }})
	raw := httptest.NewRecorder()
	down.ServeHTTP(raw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if raw.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: %d", raw.Code)
	}
	raw = httptest.NewRecorder()
	down.ServeHTTP(raw, httptest.NewRequest(http.MethodPost, "/api/audit/exports", nil))
	if raw.Code != http.StatusNotFound {
		t.Fatalf("exports without worker: %d", raw.Code)
	}
}

func TestTransientErrorsMapTo503(t *testing.T) {
	h := &Handler{logger: core.NewNoopLogger()}
	rec := httptest.NewRecorder()
	h.writeDomainError(rec, domain.TransientError{Op: "lock", Err: domain.ErrLockTimeout})
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("transient: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.writeDomainError(rec, context.Canceled)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "internal error") {
		t.Fatalf("generic: %d %s", rec.Code, rec.Body.String())
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
