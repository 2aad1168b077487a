// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// EventLog returns an event log sharing this store's connection pool.
func (s *PostgresStore) EventLog(opts ...EventLogOption) *EventLog {
	return NewEventLog(s.db, opts...)
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	return queryUpsertProduct(ctx, s.db, p)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return queryGetProduct(ctx, s.db, id)
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]*model.Product, error) {
	return queryListProducts(ctx, s.db)
}

func (s *PostgresStore) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	return queryAdjustStock(ctx, s.db, productID, delta)
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CreateOrder(ctx, o)
	})
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return queryGetOrder(ctx, s.db, id)
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, int, error) {
	return queryListOrders(ctx, s.db, filter)
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	return queryUpdateOrderStatus(ctx, s.db, id, from, to, at)
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, s.db, sess)
}

func (s *PostgresStore) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	return queryGetSession(ctx, s.db, tokenHash)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	return queryUpsertProduct(ctx, s.tx, p)
}

func (s *txStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return queryGetProduct(ctx, s.tx, id)
}

func (s *txStore) ListProducts(ctx context.Context) ([]*model.Product, error) {
	return queryListProducts(ctx, s.tx)
}

func (s *txStore) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	return queryAdjustStock(ctx, s.tx, productID, delta)
}

func (s *txStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return queryCreateOrder(ctx, s.tx, o)
}

func (s *txStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return queryGetOrder(ctx, s.tx, id)
}

func (s *txStore) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, int, error) {
	return queryListOrders(ctx, s.tx, filter)
}

func (s *txStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	return queryUpdateOrderStatus(ctx, s.tx, id, from, to, at)
}

func (s *txStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, s.tx, sess)
}

func (s *txStore) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	return queryGetSession(ctx, s.tx, tokenHash)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
