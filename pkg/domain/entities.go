package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the record kinds captured in transaction changes.
type EntityType string

// Supported entity types.
const (
	EntityWarehouse EntityType = "warehouse"
	EntityProduct   EntityType = "product"
	EntityStock     EntityType = "stock"
	EntityOrder     EntityType = "order"
	EntityLineItem  EntityType = "line_item"
	EntityMovement  EntityType = "stock_movement"
)

// OrderStatus is the closed set of states an order moves through.
type OrderStatus string

// Canonical order statuses.
const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid reports whether s is one of the canonical statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusActive, OrderStatusCanceled, OrderStatusCompleted:
		return true
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
	}
	return s, nil
}

// MovementType tags the cause of a stock movement.
type MovementType string

// Movement causes emitted by the order lifecycle.
const (
	MovementOrderCreated  MovementType = "order_created"
	MovementOrderUpdated  MovementType = "order_updated"
	MovementOrderCanceled MovementType = "order_canceled"
	MovementOrderResumed  MovementType = "order_resumed"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementOrderCreated, MovementOrderUpdated, MovementOrderCanceled, MovementOrderResumed:
		return true
	}
	return false
}

// StockKey addresses a stock record. The pair is unique; stock records carry no
// identifier of their own.
type StockKey struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// String renders the key as "product:warehouse".
func (k StockKey) String() string {
	return strconv.FormatInt(k.ProductID, 10) + ":" + strconv.FormatInt(k.WarehouseID, 10)
}

// Less orders keys by product then warehouse. Locks are always taken in this order.
func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.WarehouseID < other.WarehouseID
}

// Warehouse is a catalog entry the core reads but never mutates.
type Warehouse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Product is a catalog entry the core reads but never mutates.
type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// StockRecord holds the available quantity for a product in a warehouse.
// Seeded is the quantity the record was created with and anchors reconciliation.
type StockRecord struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
	Quantity    int   `json:"stock"`
	Seeded      int   `json:"seeded"`
}

// Key returns the record's address.
func (r StockRecord) Key() StockKey {
	return StockKey{ProductID: r.ProductID, WarehouseID: r.WarehouseID}
}

// Order is a customer order against a single warehouse.
type Order struct {
	ID          int64       `json:"id"`
	Customer    string      `json:"customer"`
	WarehouseID int64       `json:"warehouse_id"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Items       []LineItem  `json:"items"`
}

// LineItem reserves Count units of a product for an order.
type LineItem struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Count     int   `json:"count"`
}

// StockMovement is an append-only audit entry for a signed stock change.
type StockMovement struct {
	ID             int64        `json:"id"`
	ProductID      int64        `json:"product_id"`
	WarehouseID    int64        `json:"warehouse_id"`
	OrderID        *int64       `json:"order_id,omitempty"`
	QuantityChange int          `json:"quantity_change"`
	Type           MovementType `json:"type"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Key returns the stock key affected by the movement.
func (m StockMovement) Key() StockKey {
	return StockKey{ProductID: m.ProductID, WarehouseID: m.WarehouseID}
}

// WarehouseStock is one warehouse's quantity for a product.
type WarehouseStock struct {
	WarehouseID   int64  `json:"warehouse_id"`
	WarehouseName string `json:"warehouse_name"`
	Stock         int    `json:"stock"`
}

// ProductStock joins a product with its stock across warehouses.
type ProductStock struct {
	Product
	Stocks []WarehouseStock `json:"stocks"`
}

// Catalog is the seed data loaded into an empty store.
type Catalog struct {
	Warehouses []Warehouse
	Products   []Product
	Stocks     []StockRecord
}
