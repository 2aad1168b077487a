// Package client provides the cafestream API client and a reconnecting
// consumer for its server-sent event streams.
package client

import (
	"context"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

// Client is the interface CLI commands use to talk to the cafestream server.
// It is implemented by HTTPClient.
type Client interface {
	// Orders
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)

	// Products
	ListProducts(ctx context.Context) ([]*model.Product, error)
	AddProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	Restock(ctx context.Context, productID string, quantity int) (*model.Product, error)

	// History
	TopicEntries(ctx context.Context, topic string, req *TopicEntriesRequest) ([]eventlog.Entry, error)
	TopicLatest(ctx context.Context, topic string) (*eventlog.Entry, error)

	// Health
	Health(ctx context.Context) (string, error)
}

// PlaceOrderRequest holds parameters for placing an order. UserID is only
// honored for staff callers.
type PlaceOrderRequest struct {
	UserID string            `json:"user_id,omitempty"`
	Items  []model.OrderItem `json:"items"`
}

// ListOrdersRequest holds filtering parameters for listing orders.
type ListOrdersRequest struct {
	UserID string
	Status []string
	Limit  int
	Offset int
}

// ListOrdersResponse is the paginated result of ListOrders.
type ListOrdersResponse struct {
	Orders []*model.Order `json:"orders"`
	Total  int            `json:"total"`
}

// TopicEntriesRequest bounds a history read. Zero values mean unbounded and
// the server default limit.
type TopicEntriesRequest struct {
	From  eventlog.EntryID
	To    eventlog.EntryID
	Limit int
}
