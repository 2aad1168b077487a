package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned by AdjustStock when the decrement would
	// take stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict is returned by UpdateOrderStatus when the order is no longer
	// in the expected status.
	ErrConflict = errors.New("concurrent modification")
)

// Store defines the persistence interface for orders, products and sessions.
type Store interface {
	// Products
	UpsertProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]*model.Product, error)
	// AdjustStock adds delta to the product's stock and returns the quantities
	// before and after the change.
	AdjustStock(ctx context.Context, productID string, delta int) (before, after int, err error)

	// Orders
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, int, error) // returns orders, total count, error
	// UpdateOrderStatus moves the order from one status to another, failing
	// with ErrConflict if it is not currently in from.
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error

	// Sessions
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, tokenHash string) (*model.Session, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
