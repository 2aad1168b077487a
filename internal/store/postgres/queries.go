package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

const productColumns = `id, name, price_cents, stock_quantity, low_stock_threshold, updated_at`

const orderColumns = `id, user_id, status, total_cents, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound maps sql.ErrNoRows onto store.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return err
}

func queryUpsertProduct(ctx context.Context, db executor, p *model.Product) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price_cents, stock_quantity, low_stock_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			stock_quantity = EXCLUDED.stock_quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			updated_at = NOW()
		RETURNING updated_at`,
		p.ID, p.Name, p.PriceCents, p.StockQuantity, p.LowStockThreshold,
	).Scan(&p.UpdatedAt)
}

func queryGetProduct(ctx context.Context, db executor, id string) (*model.Product, error) {
	row := db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return p, nil
}

func queryListProducts(ctx context.Context, db executor) ([]*model.Product, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// queryAdjustStock applies delta in a single conditional UPDATE so concurrent
// orders cannot drive stock negative. When the update matches nothing a
// follow-up read tells a missing product apart from insufficient stock.
func queryAdjustStock(ctx context.Context, db executor, productID string, delta int) (int, int, error) {
	var after int
	err := db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity`,
		productID, delta,
	).Scan(&after)
	if err == nil {
		return after - delta, after, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("adjust stock %s: %w", productID, err)
	}

	var current int
	err = db.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&current)
	if err != nil {
		return 0, 0, notFound(err, "product", productID)
	}
	return current, current, fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
}

func queryCreateOrder(ctx context.Context, db executor, o *model.Order) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, string(o.Status), o.TotalCents, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, it := range o.Items {
		_, err := db.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", it.ProductID, err)
		}
	}
	return nil
}

func queryGetOrder(ctx context.Context, db executor, id string) (*model.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	items, err := queryOrderItems(ctx, db, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

// queryOrderItems loads the items of several orders in one round trip.
func queryOrderItems(ctx context.Context, db executor, orderIDs []string) (map[string][]model.OrderItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price_cents
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, product_id`,
		pq.Array(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var it model.OrderItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func queryListOrders(ctx context.Context, db executor, filter model.OrderFilter) ([]*model.Order, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.UserID != "" {
		whereClauses = append(whereClauses, "user_id = "+nextArg())
		args = append(args, filter.UserID)
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + orderColumns + " FROM orders" + whereSQL + " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	var total int
	for rows.Next() {
		o, t, err := scanOrderWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan orders: %w", err)
		}
		total = t
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan orders: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, total, nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := queryOrderItems(ctx, db, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, total, nil
}

func queryUpdateOrderStatus(ctx context.Context, db executor, id string, from, to model.OrderStatus, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return notFound(err, "order", id)
	}
	return fmt.Errorf("order %s is %s, not %s: %w", id, current, from, store.ErrConflict)
}

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, role, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.TokenHash, s.UserID, string(s.Role), s.CreatedAt, nullTime(s.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func queryGetSession(ctx context.Context, db executor, tokenHash string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `
		SELECT token_hash, user_id, role, created_at, expires_at
		FROM sessions WHERE token_hash = $1`, tokenHash)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", "")
	}
	return s, nil
}
