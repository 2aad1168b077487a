package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

// ScopeKind names what a stream exposes.
type ScopeKind string

const (
	ScopeUserOrders ScopeKind = "user-orders"
	ScopeOrder      ScopeKind = "order"
	ScopeAllOrders  ScopeKind = "all-orders"
	ScopeLowStock   ScopeKind = "low-stock"
)

// Scope is the requested view of the event stream.
type Scope struct {
	Kind    ScopeKind
	UserID  string
	OrderID string
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeUserOrders:
		return fmt.Sprintf("%s:%s", s.Kind, s.UserID)
	case ScopeOrder:
		return fmt.Sprintf("%s:%s", s.Kind, s.OrderID)
	}
	return string(s.Kind)
}

// OrderOwnerLookup returns the user who placed an order, or store.ErrNotFound.
type OrderOwnerLookup interface {
	OrderOwner(ctx context.Context, orderID string) (string, error)
}

// OrderOwnerFunc adapts a function to OrderOwnerLookup.
type OrderOwnerFunc func(ctx context.Context, orderID string) (string, error)

func (f OrderOwnerFunc) OrderOwner(ctx context.Context, orderID string) (string, error) {
	return f(ctx, orderID)
}

// Authorize decides once, before streaming begins, whether id may open scope.
// Customers see only their own orders; staff and owners see everything.
// Unknown orders report store.ErrNotFound to privileged callers and
// ErrForbidden to everyone else.
func Authorize(ctx context.Context, id *model.Identity, scope Scope, owners OrderOwnerLookup) error {
	if id == nil {
		return ErrUnauthenticated
	}
	switch scope.Kind {
	case ScopeAllOrders, ScopeLowStock:
		if !id.Privileged() {
			return ErrForbidden
		}
		return nil

	case ScopeUserOrders:
		if scope.UserID == "" {
			return fmt.Errorf("user scope without user id: %w", ErrForbidden)
		}
		if id.Privileged() || id.UserID == scope.UserID {
			return nil
		}
		return ErrForbidden

	case ScopeOrder:
		if owners == nil {
			return errors.New("authorize: no order owner lookup")
		}
		owner, err := owners.OrderOwner(ctx, scope.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			if id.Privileged() {
				return err
			}
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("looking up order owner: %w", err)
		}
		if id.Privileged() || owner == id.UserID {
			return nil
		}
		return ErrForbidden
	}
	return fmt.Errorf("unknown scope %q: %w", scope.Kind, ErrForbidden)
}
