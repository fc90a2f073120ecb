// Package audit exports the stock movement trail to the blob store.
package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	blob "stockcore/internal/blob/core"
	"stockcore/internal/core"
	"stockcore/pkg/domain"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts csv or json; empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", raw)}
	}
}

func (f Format) contentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Status describes the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request asks for the movements matching Filter in one file.
type Request struct {
	Format Format
	Filter domain.MovementFilter
}

// Export tracks one export job.
type Export struct {
	ID          string                `json:"id"`
	Format      Format                `json:"format"`
	Filter      domain.MovementFilter `json:"filter"`
	Status      Status                `json:"status"`
	Error       string                `json:"error,omitempty"`
	Rows        int                   `json:"rows"`
	Object      *blob.Info            `json:"object,omitempty"`
	URL         string                `json:"url,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func (e *Export) copy() Export {
	out := *e
	if e.Object != nil {
		obj := *e.Object
		obj.Metadata = blob.CloneMetadata(e.Object.Metadata)
		out.Object = &obj
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// MovementSource lists the movement trail. *core.Service satisfies it.
type MovementSource interface {
	ListMovements(ctx context.Context, filter domain.MovementFilter, page domain.Page) ([]domain.StockMovement, int, error)
}

// ErrQueueFull is returned when the worker cannot accept more jobs.
var ErrQueueFull = errors.New("export queue full")

const (
	defaultQueueSize = 32
	pageSize         = 500
	urlExpiry        = time.Hour
)

// Worker runs exports on a single background goroutine.
type Worker struct {
	source   MovementSource
	store    blob.Store
	prefix   string
	logger   core.Logger
	pageSize int

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Export

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithPrefix sets the object key prefix.
func WithPrefix(prefix string) Option {
	return func(w *Worker) { w.prefix = prefix }
}

// WithLogger sets the worker logger.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithQueueSize bounds the number of pending jobs.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// NewWorker constructs an export worker. Call Start before enqueueing.
func NewWorker(source MovementSource, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: source,
		store:  store,
		logger:   nopLogger{},
		pageSize: pageSize,
		queue:    make(chan string, defaultQueueSize),
		jobs:   make(map[string]*Export),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing queued exports.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the running job, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue records a queued export and hands it to the worker.
func (w *Worker) Enqueue(_ context.Context, req Request) (Export, error) {
	format := req.Format
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return Export{}, domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
	now := time.Now().UTC()
	record := &Export{
		ID:        uuid.NewString(),
		Format:    format,
		Filter:    req.Filter,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.mu.Lock()
	w.jobs[record.ID] = record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Export{}, ErrQueueFull
	}
	w.logger.Info("audit export queued", "export_id", record.ID, "format", string(format))
	return snapshot, nil
}

// Get returns a snapshot of the export.
func (w *Worker) Get(id string) (Export, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Export{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(id string) {
	w.mu.Lock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	record.Status = StatusRunning
	record.UpdatedAt = time.Now().UTC()
	format, filter := record.Format, record.Filter
	w.mu.Unlock()

	cutoff := time.Now().UTC()
	if filter.To == nil || filter.To.After(cutoff) {
		filter.To = &cutoff
	}
	movements, err := w.collect(filter)
	if err != nil {
		w.fail(id, fmt.Sprintf("list movements: %v", err))
		return
	}
	payload, err := encode(format, movements)
	if err != nil {
		w.fail(id, err.Error())
		return
	}
	key := fmt.Sprintf("%smovements-%s-%s.%s", w.prefix, time.Now().UTC().Format("20060102T150405Z"), id, format)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: format.contentType(),
		Metadata:    map[string]string{"export-id": id, "rows": strconv.Itoa(len(movements))},
	})
	if err != nil {
		w.fail(id, fmt.Sprintf("store export: %v", err))
		return
	}
	url, err := w.store.PresignURL(w.ctx, key, urlExpiry)
	if err != nil && !errors.Is(err, blob.ErrUnsupported) {
		w.logger.Warn("presign export failed", "export_id", id, "error", err)
	}
	w.complete(id, info, url, len(movements))
}

// collect walks the trail with a keyset cursor, so movements committed while
// the export runs cannot shift later pages.
func (w *Worker) collect(filter domain.MovementFilter) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	for {
		batch, _, err := w.source.ListMovements(w.ctx, filter, domain.Page{Number: 1, Size: w.pageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < w.pageSize {
			return out, nil
		}
		filter.After = domain.CursorOf(batch[len(batch)-1])
	}
}

func encode(format Format, movements []domain.StockMovement) ([]byte, error) {
	var buf bytes.Buffer
	if format == FormatJSON {
		if movements == nil {
			movements = []domain.StockMovement{}
		}
		if err := json.NewEncoder(&buf).Encode(movements); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return buf.Bytes(), nil
	}
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"id", "product_id", "warehouse_id", "order_id", "quantity_change", "type", "created_at"})
	for _, m := range movements {
		orderID := ""
		if m.OrderID != nil {
			orderID = strconv.FormatInt(*m.OrderID, 10)
		}
		_ = cw.Write([]string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.ProductID, 10),
			strconv.FormatInt(m.WarehouseID, 10),
			orderID,
			strconv.Itoa(m.QuantityChange),
			string(m.Type),
			m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Worker) complete(id string, info blob.Info, url string, rows int) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Rows = rows
		record.Object = &info
		record.URL = url
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("audit export stored", "export_id", id, "key", info.Key, "rows", rows)
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Error("audit export failed", "export_id", id, "error", reason)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
