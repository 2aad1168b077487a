package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanProduct scans a single row in productColumns order.
func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceCents,
		&p.StockQuantity,
		&p.LowStockThreshold,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanOrder scans a single row in orderColumns order. Items are loaded separately.
func scanOrder(row scannable) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalCents,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// scanOrderWithTotal scans a row that has a leading total_count column
// followed by the order columns. Used by queryListOrders with COUNT(*) OVER().
func scanOrderWithTotal(row scannable) (*model.Order, int, error) {
	var total int
	var o model.Order
	err := row.Scan(
		&total,
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalCents,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	return &o, total, nil
}

func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var expiresAt sql.NullTime
	if err := row.Scan(&s.TokenHash, &s.UserID, &s.Role, &s.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		s.ExpiresAt = expiresAt.Time
	}
	return &s, nil
}

// nullTime converts a zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
