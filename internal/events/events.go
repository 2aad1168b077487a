package events

import (
	"context"
	"strconv"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

// Event topic constants
const (
	TopicOrderCreated       = "order-created"
	TopicOrderStatusChanged = "order-status-changed"
	TopicLowStockAlert      = "low-stock-alert"
)

// Topics lists every topic the publisher writes.
var Topics = []string{TopicOrderCreated, TopicOrderStatusChanged, TopicLowStockAlert}

// Entry field keys.
const (
	FieldOrderID       = "orderId"
	FieldUserID        = "userId"
	FieldStatus        = "status"
	FieldOldStatus     = "oldStatus"
	FieldProductID     = "productId"
	FieldProductName   = "productName"
	FieldStockQuantity = "stockQuantity"
	FieldThreshold     = "threshold"
	FieldTimestamp     = "timestamp"
)

// Frame types seen by stream consumers.
const (
	FrameConnected     = "connected"
	FrameOrderCreated  = "order_created"
	FrameOrderUpdated  = "order_updated"
	FrameLowStockAlert = "low_stock_alert"
)

// FrameType maps a topic to the frame type it is delivered as. Unknown topics
// map to the topic name itself.
func FrameType(topic string) string {
	switch topic {
	case TopicOrderCreated:
		return FrameOrderCreated
	case TopicOrderStatusChanged:
		return FrameOrderUpdated
	case TopicLowStockAlert:
		return FrameLowStockAlert
	}
	return topic
}

// Event is a typed record that knows its topic and flat field encoding.
type Event interface {
	Topic() string
	Fields() map[string]string
}

// Event types

type OrderCreated struct {
	OrderID   string
	UserID    string
	Status    model.OrderStatus
	Timestamp time.Time
}

func (e OrderCreated) Topic() string { return TopicOrderCreated }

func (e OrderCreated) Fields() map[string]string {
	return map[string]string{
		FieldOrderID:   e.OrderID,
		FieldUserID:    e.UserID,
		FieldStatus:    string(e.Status),
		FieldTimestamp: formatTime(e.Timestamp),
	}
}

type OrderStatusChanged struct {
	OrderID   string
	UserID    string
	OldStatus model.OrderStatus
	Status    model.OrderStatus
	Timestamp time.Time
}

func (e OrderStatusChanged) Topic() string { return TopicOrderStatusChanged }

func (e OrderStatusChanged) Fields() map[string]string {
	f := map[string]string{
		FieldOrderID:   e.OrderID,
		FieldUserID:    e.UserID,
		FieldStatus:    string(e.Status),
		FieldTimestamp: formatTime(e.Timestamp),
	}
	if e.OldStatus != "" {
		f[FieldOldStatus] = string(e.OldStatus)
	}
	return f
}

type LowStockAlert struct {
	ProductID     string
	ProductName   string
	StockQuantity int
	Threshold     int
	Timestamp     time.Time
}

func (e LowStockAlert) Topic() string { return TopicLowStockAlert }

func (e LowStockAlert) Fields() map[string]string {
	return map[string]string{
		FieldProductID:     e.ProductID,
		FieldProductName:   e.ProductName,
		FieldStockQuantity: strconv.Itoa(e.StockQuantity),
		FieldThreshold:     strconv.Itoa(e.Threshold),
		FieldTimestamp:     formatTime(e.Timestamp),
	}
}

// ParseLowStockAlert decodes the fields written by LowStockAlert.Fields.
func ParseLowStockAlert(fields map[string]string) (LowStockAlert, error) {
	qty, err := strconv.Atoi(fields[FieldStockQuantity])
	if err != nil {
		return LowStockAlert{}, err
	}
	threshold, err := strconv.Atoi(fields[FieldThreshold])
	if err != nil {
		return LowStockAlert{}, err
	}
	ts, _ := time.Parse(time.RFC3339Nano, fields[FieldTimestamp])
	return LowStockAlert{
		ProductID:     fields[FieldProductID],
		ProductName:   fields[FieldProductName],
		StockQuantity: qty,
		Threshold:     threshold,
		Timestamp:     ts,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Publisher is the interface for emitting order events. Each call appends
// exactly one entry; callers publish only after the mutation has committed.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, e OrderCreated) (eventlog.EntryID, error)
	PublishOrderStatusChanged(ctx context.Context, e OrderStatusChanged) (eventlog.EntryID, error)
	PublishLowStockAlert(ctx context.Context, e LowStockAlert) (eventlog.EntryID, error)
	Close() error
}
