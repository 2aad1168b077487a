package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/metrics"
)

// LogPublisher appends events to an eventlog.Log. It does not own the log.
type LogPublisher struct {
	log    eventlog.Log
	logger *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

func NewLogPublisher(log eventlog.Log, logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{log: log, logger: logger}
}

// Publish appends any Event. Append errors are returned wrapped and never retried.
func (p *LogPublisher) Publish(ctx context.Context, e Event) (eventlog.EntryID, error) {
	topic := e.Topic()
	id, err := p.log.Append(ctx, topic, e.Fields())
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return 0, fmt.Errorf("publishing %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	p.logger.Debug("event published", "topic", topic, "id", id)
	return id, nil
}

func (p *LogPublisher) PublishOrderCreated(ctx context.Context, e OrderCreated) (eventlog.EntryID, error) {
	return p.Publish(ctx, e)
}

func (p *LogPublisher) PublishOrderStatusChanged(ctx context.Context, e OrderStatusChanged) (eventlog.EntryID, error) {
	return p.Publish(ctx, e)
}

func (p *LogPublisher) PublishLowStockAlert(ctx context.Context, e LowStockAlert) (eventlog.EntryID, error) {
	return p.Publish(ctx, e)
}

// Close is a no-op; the log belongs to the caller.
func (p *LogPublisher) Close() error {
	return nil
}
