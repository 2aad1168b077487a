// Package orders is the producer side of the event stream: it applies order
// and inventory mutations to the store and publishes the resulting events
// once they have committed.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/idgen"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

var (
	// ErrOutOfStock is returned when an order asks for more than is on hand.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownProduct is returned when an order references a missing product.
	ErrUnknownProduct = errors.New("unknown product")
)

// publishTimeout bounds each post-commit publish. Publishing is detached from
// the request context so a client hanging up after commit does not drop the
// event.
const publishTimeout = 10 * time.Second

// Service applies order mutations and publishes their events.
type Service struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service. A nil publisher disables eventing.
func New(s store.Store, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		publisher: pub,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder reserves stock for every item and creates a PENDING order in a
// single transaction. After commit it publishes OrderCreated and one
// LowStockAlert for each product the order pushed to or below its threshold.
func (s *Service) PlaceOrder(ctx context.Context, userID string, items []model.OrderItem) (*model.Order, error) {
	if err := model.ValidateNewOrder(userID, items); err != nil {
		return nil, err
	}
	id, err := idgen.NewOrderID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	now := s.now()
	order := &model.Order{
		ID:        id,
		UserID:    userID,
		Status:    model.StatusPending,
		Items:     make([]model.OrderItem, len(items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	var alerts []events.LowStockAlert

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		alerts = alerts[:0]
		for i, it := range items {
			p, err := tx.GetProduct(ctx, it.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
			}
			if err != nil {
				return fmt.Errorf("loading product %s: %w", it.ProductID, err)
			}

			before, after, err := tx.AdjustStock(ctx, it.ProductID, -it.Quantity)
			if errors.Is(err, store.ErrInsufficientStock) {
				return fmt.Errorf("%w: %s has %d, wanted %d", ErrOutOfStock, it.ProductID, before, it.Quantity)
			}
			if err != nil {
				return fmt.Errorf("reserving %s: %w", it.ProductID, err)
			}

			order.Items[i] = model.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPriceCents: p.PriceCents}
			if model.CrossedThreshold(before, after, p.LowStockThreshold) {
				alerts = append(alerts, events.LowStockAlert{
					ProductID:     p.ID,
					ProductName:   p.Name,
					StockQuantity: after,
					Threshold:     p.LowStockThreshold,
					Timestamp:     now,
				})
			}
		}
		order.TotalCents = order.Total()
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, order.ID, func(ctx context.Context) (eventlog.EntryID, error) {
		return s.publisher.PublishOrderCreated(ctx, events.OrderCreated{
			OrderID: order.ID, UserID: order.UserID, Status: order.Status, Timestamp: now,
		})
	})
	for _, a := range alerts {
		s.publish(ctx, order.ID, func(ctx context.Context) (eventlog.EntryID, error) {
			return s.publisher.PublishLowStockAlert(ctx, a)
		})
	}
	return order, nil
}

// UpdateStatus moves an order to status. The change is checked against the
// order lifecycle and applied only if no one else changed the order first.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	old := order.Status
	if !old.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, old, status)
	}

	now := s.now()
	if err := s.store.UpdateOrderStatus(ctx, orderID, old, status, now); err != nil {
		return nil, err
	}
	order.Status = status
	order.UpdatedAt = now

	s.publish(ctx, orderID, func(ctx context.Context) (eventlog.EntryID, error) {
		return s.publisher.PublishOrderStatusChanged(ctx, events.OrderStatusChanged{
			OrderID: orderID, UserID: order.UserID, OldStatus: old, Status: status, Timestamp: now,
		})
	})
	return order, nil
}

// Restock adds quantity units to a product. Restocking publishes nothing.
func (s *Service) Restock(ctx context.Context, productID string, quantity int) (*model.Product, error) {
	if quantity <= 0 {
		return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "quantity", Message: "must be positive"}}}
	}
	var p *model.Product
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if _, _, err := tx.AdjustStock(ctx, productID, quantity); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("product restocked", "product", productID, "quantity", quantity, "stock", p.StockQuantity)
	return p, nil
}

// AddProduct creates or replaces a product definition. A missing ID is generated.
func (s *Service) AddProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	if p.ID == "" {
		id, err := idgen.NewProductID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ID: %w", err)
		}
		p.ID = id
	}
	if err := model.ValidateProduct(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	if err := s.store.UpsertProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetOrder returns a single order.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns a page of orders and the total match count.
func (s *Service) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, int, error) {
	return s.store.ListOrders(ctx, filter)
}

// ListProducts returns the menu with current stock.
func (s *Service) ListProducts(ctx context.Context) ([]*model.Product, error) {
	return s.store.ListProducts(ctx)
}

// OrderOwner returns the user who placed orderID.
func (s *Service) OrderOwner(ctx context.Context, orderID string) (string, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.UserID, nil
}

// publish runs one publish call. The mutation has already committed, so a
// failure is logged and dropped.
func (s *Service) publish(ctx context.Context, orderID string, fn func(context.Context) (eventlog.EntryID, error)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := fn(ctx); err != nil {
		s.logger.Warn("failed to publish event", "order", orderID, "err", err)
	}
}
