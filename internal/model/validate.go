package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateNewOrder checks the caller-supplied parts of an order before any
// stock is touched. It returns a *ValidationError or nil.
func ValidateNewOrder(userID string, items []OrderItem) error {
	var ve ValidationError

	if strings.TrimSpace(userID) == "" {
		ve.add("user_id", "is required")
	}
	if len(items) == 0 {
		ve.add("items", "at least one item is required")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			ve.add(field+".product_id", "is required")
		} else if seen[it.ProductID] {
			ve.add(field+".product_id", "duplicate product %q", it.ProductID)
		}
		seen[it.ProductID] = true
		if it.Quantity <= 0 {
			ve.add(field+".quantity", "must be positive, got %d", it.Quantity)
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateProduct checks a product definition.
func ValidateProduct(p *Product) error {
	var ve ValidationError
	if strings.TrimSpace(p.ID) == "" {
		ve.add("id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		ve.add("name", "is required")
	}
	if p.PriceCents < 0 {
		ve.add("price_cents", "must not be negative")
	}
	if p.StockQuantity < 0 {
		ve.add("stock_quantity", "must not be negative")
	}
	if p.LowStockThreshold < 0 {
		ve.add("low_stock_threshold", "must not be negative")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
