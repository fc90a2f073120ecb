package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxCustomerLength bounds the customer name.
const MaxCustomerLength = 255

// ItemSpec requests Count units of a product.
type ItemSpec struct {
	ProductID int64 `json:"product_id"`
	Count     int   `json:"count"`
}

// CreateOrderInput carries the fields needed to open an order.
type CreateOrderInput struct {
	Customer    string     `json:"customer"`
	WarehouseID int64      `json:"warehouse_id"`
	Items       []ItemSpec `json:"items"`
}

// Validate checks the shape of the request. Referential checks against the
// catalog are left to the caller.
func (in CreateOrderInput) Validate() error {
	if err := validateCustomer(in.Customer); err != nil {
		return err
	}
	if in.WarehouseID <= 0 {
		return ValidationError{Field: "warehouse_id", Reason: "must be a positive identifier"}
	}
	return validateItems(in.Items)
}

// UpdateOrderInput changes the customer, the items, or both. A nil field is
// left untouched; a non-nil empty item list is rejected.
type UpdateOrderInput struct {
	Customer *string    `json:"customer,omitempty"`
	Items    []ItemSpec `json:"items,omitempty"`
}

// HasItems reports whether the update replaces line items.
func (in UpdateOrderInput) HasItems() bool { return in.Items != nil }

// Validate checks the shape of the request.
func (in UpdateOrderInput) Validate() error {
	if in.Customer != nil {
		if err := validateCustomer(*in.Customer); err != nil {
			return err
		}
	}
	if in.Items != nil {
		return validateItems(in.Items)
	}
	return nil
}

func validateCustomer(customer string) error {
	if strings.TrimSpace(customer) == "" {
		return ValidationError{Field: "customer", Reason: "is required"}
	}
	if utf8.RuneCountInString(customer) > MaxCustomerLength {
		return ValidationError{Field: "customer", Reason: fmt.Sprintf("must be at most %d characters", MaxCustomerLength)}
	}
	return nil
}

func validateItems(items []ItemSpec) error {
	if len(items) == 0 {
		return ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for i, item := range items {
		if item.ProductID <= 0 {
			return ValidationError{Field: fmt.Sprintf("items.%d.product_id", i), Reason: "must be a positive identifier"}
		}
		if item.Count < 1 {
			return ValidationError{Field: fmt.Sprintf("items.%d.count", i), Reason: "must be at least 1"}
		}
	}
	return nil
}
