package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/model"
)

// Memory is an in-process Store for tests and local development. Transactions
// hold the store lock and roll back by restoring a snapshot.
type Memory struct {
	mu       sync.Mutex
	products map[string]*model.Product
	orders   map[string]*model.Order
	sessions map[string]*model.Session
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products: make(map[string]*model.Product),
		orders:   make(map[string]*model.Order),
		sessions: make(map[string]*model.Session),
	}
}

func (m *Memory) UpsertProduct(ctx context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().UpsertProduct(ctx, p)
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().GetProduct(ctx, id)
}

func (m *Memory) ListProducts(ctx context.Context) ([]*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().ListProducts(ctx)
}

func (m *Memory) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().AdjustStock(ctx, productID, delta)
}

func (m *Memory) CreateOrder(ctx context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().CreateOrder(ctx, o)
}

func (m *Memory) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().GetOrder(ctx, id)
}

func (m *Memory) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().ListOrders(ctx, filter)
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().UpdateOrderStatus(ctx, id, from, to, at)
}

func (m *Memory) CreateSession(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().CreateSession(ctx, s)
}

func (m *Memory) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().GetSession(ctx, tokenHash)
}

// RunInTransaction runs fn with the store locked. If fn fails every change it
// made is discarded.
func (m *Memory) RunInTransaction(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(m.state()); err != nil {
		m.products, m.orders, m.sessions = snap.products, snap.orders, snap.sessions
		return err
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) state() *memState {
	return &memState{m: m}
}

func (m *Memory) snapshot() *Memory {
	s := NewMemory()
	for k, v := range m.products {
		p := *v
		s.products[k] = &p
	}
	for k, v := range m.orders {
		s.orders[k] = cloneOrder(v)
	}
	for k, v := range m.sessions {
		sess := *v
		s.sessions[k] = &sess
	}
	return s
}

// memState operates on the maps of a Memory whose lock the caller holds.
type memState struct {
	m *Memory
}

var _ Store = (*memState)(nil)

func (s *memState) UpsertProduct(_ context.Context, p *model.Product) error {
	cp := *p
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.m.products[p.ID] = &cp
	return nil
}

func (s *memState) GetProduct(_ context.Context, id string) (*model.Product, error) {
	p, ok := s.m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *memState) ListProducts(_ context.Context) ([]*model.Product, error) {
	out := make([]*model.Product, 0, len(s.m.products))
	for _, p := range s.m.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memState) AdjustStock(_ context.Context, productID string, delta int) (int, int, error) {
	p, ok := s.m.products[productID]
	if !ok {
		return 0, 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	before := p.StockQuantity
	after := before + delta
	if after < 0 {
		return before, before, fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
	}
	p.StockQuantity = after
	p.UpdatedAt = time.Now().UTC()
	return before, after, nil
}

func (s *memState) CreateOrder(_ context.Context, o *model.Order) error {
	if _, exists := s.m.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *memState) GetOrder(_ context.Context, id string) (*model.Order, error) {
	o, ok := s.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *memState) ListOrders(_ context.Context, filter model.OrderFilter) ([]*model.Order, int, error) {
	var matched []*model.Order
	for _, o := range s.m.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, o.Status) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]*model.Order, len(matched))
	for i, o := range matched {
		out[i] = cloneOrder(o)
	}
	return out, total, nil
}

func (s *memState) UpdateOrderStatus(_ context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	o, ok := s.m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s is %s, not %s: %w", id, o.Status, from, ErrConflict)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

func (s *memState) CreateSession(_ context.Context, sess *model.Session) error {
	cp := *sess
	s.m.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *memState) GetSession(_ context.Context, tokenHash string) (*model.Session, error) {
	sess, ok := s.m.sessions[tokenHash]
	if !ok {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

// RunInTransaction on a memState reuses the enclosing transaction.
func (s *memState) RunInTransaction(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *memState) Close() error { return nil }

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}
