package events

import (
	"context"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

// NoopPublisher is a Publisher that does nothing (used when eventing is disabled).
type NoopPublisher struct{}

func (n *NoopPublisher) PublishOrderCreated(context.Context, OrderCreated) (eventlog.EntryID, error) {
	return 0, nil
}

func (n *NoopPublisher) PublishOrderStatusChanged(context.Context, OrderStatusChanged) (eventlog.EntryID, error) {
	return 0, nil
}

func (n *NoopPublisher) PublishLowStockAlert(context.Context, LowStockAlert) (eventlog.EntryID, error) {
	return 0, nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
