// Package notify delivers user-facing notifications raised by stream
// consumers: order status transitions and low-stock alerts.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindOrderUpdate Kind = "order_update"
	KindLowStock    Kind = "low_stock"
)

// Notification is one message for a person.
type Notification struct {
	Kind           Kind      `json:"kind"`
	OrderID        string    `json:"order_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	ProductName    string    `json:"product_name,omitempty"`
	StockQuantity  int       `json:"stock_quantity,omitempty"`
	Threshold      int       `json:"threshold,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message renders a one-line human summary.
func (n Notification) Message() string {
	switch n.Kind {
	case KindOrderUpdate:
		return fmt.Sprintf("Order %s is now %s", n.OrderID, n.Status)
	case KindLowStock:
		name := n.ProductName
		if name == "" {
			name = n.ProductID
		}
		return fmt.Sprintf("%s is low: %d left (threshold %d)", name, n.StockQuantity, n.Threshold)
	}
	return string(n.Kind)
}

// Notifier sends notifications to an external system.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	Name() string
}

// Logger is the subset of *slog.Logger used here.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Multi fans out notifications to several notifiers. It never returns
// errors: failures are logged so one broken channel does not hide the rest.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
	log       Logger
}

// NewMulti creates a fan-out over the given notifiers.
func NewMulti(log Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, log: log}
}

// Name returns the provider name for logging.
func (m *Multi) Name() string { return "multi" }

// Send delivers n to every notifier and always returns nil.
func (m *Multi) Send(ctx context.Context, n Notification) error {
	m.Notify(ctx, n)
	return nil
}

// Notify delivers n to every notifier. It reports whether at least one
// succeeded, or true if none are configured.
func (m *Multi) Notify(ctx context.Context, n Notification) bool {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	if len(notifiers) == 0 {
		return true
	}
	anyOK := false
	for _, nt := range notifiers {
		if err := nt.Send(ctx, n); err != nil {
			m.log.Error("notification failed",
				"provider", nt.Name(),
				"kind", string(n.Kind),
				"order", n.OrderID,
				"product", n.ProductID,
				"err", err.Error(),
			)
			continue
		}
		anyOK = true
	}
	return anyOK
}

// Add appends a notifier to the chain.
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}
