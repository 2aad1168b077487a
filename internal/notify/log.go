package notify

import "context"

// LogNotifier writes every notification as a structured log line.
type LogNotifier struct {
	log Logger
}

// NewLogNotifier creates a notifier that logs notifications.
func NewLogNotifier(log Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Name returns the provider name for logging.
func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.log.Info(n.Message(),
		"kind", string(n.Kind),
		"order", n.OrderID,
		"status", n.Status,
		"previous_status", n.PreviousStatus,
		"product", n.ProductID,
		"stock", n.StockQuantity,
		"threshold", n.Threshold,
		"timestamp", n.Timestamp.String(),
	)
	return nil
}
