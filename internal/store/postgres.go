package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Deng123666/e-commerce/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.lockTimeout = d
	}
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:        pool,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables checkout needs if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Begin implements Store.Begin. Every transaction gets a lock_timeout so a
// blocked row lock surfaces as an error instead of a hang.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	return &postgresTx{tx: tx}, nil
}

// ListCartItems implements Store.ListCartItems.
func (s *PostgresStore) ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error) {
	return listCartItems(ctx, s.pool, customerID)
}

// Ping implements Store.Ping.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listCartItemsQuery = `
	SELECT ci.id, ci.customer_id, ci.product_id, ci.quantity, p.price_cents
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	WHERE ci.customer_id = $1
	ORDER BY ci.id
`

func listCartItems(ctx context.Context, q querier, customerID int64) ([]CartItem, error) {
	rows, err := q.Query(ctx, listCartItemsQuery, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CartItem, error) {
		var it CartItem
		err := row.Scan(&it.ID, &it.CustomerID, &it.ProductID, &it.Quantity, &it.PriceCents)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cart items: %w", err)
	}
	return items, nil
}

// postgresTx implements Tx over a pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error) {
	return listCartItems(ctx, t.tx, customerID)
}

func (t *postgresTx) GetProductForUpdate(ctx context.Context, productID int64) (*Product, error) {
	var p Product
	var vendorID *int64
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, price_cents, stock, is_active, vendor_id, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.IsActive, &vendorID, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if vendorID != nil {
		p.VendorID = *vendorID
	}
	return &p, nil
}

func (t *postgresTx) UpdateProductStock(ctx context.Context, productID int64, stock int, active bool) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products
		SET stock = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
	`, productID, stock, active)
	if err != nil {
		return fmt.Errorf("failed to update product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) CreateOrder(ctx context.Context, order *Order) (*Order, error) {
	created := *order
	if created.Status == "" {
		created.Status = OrderStatusPending
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, total_cents, order_status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, created.CustomerID, created.TotalCents, string(created.Status)).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &created, nil
}

func (t *postgresTx) CreateOrderItems(ctx context.Context, items []OrderItem) ([]OrderItem, error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, quantity, price_cents)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, item.OrderID, item.ProductID, item.Quantity, item.PriceCents)
	}

	results := t.tx.SendBatch(ctx, batch)
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if err := results.QueryRow().Scan(&item.ID); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
		out = append(out, item)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("failed to create order items: %w", err)
	}
	return out, nil
}

func (t *postgresTx) ClearCart(ctx context.Context, customerID int64) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM cart_items WHERE customer_id = $1", customerID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (t *postgresTx) GetOrderForUpdate(ctx context.Context, orderID int64) (*Order, error) {
	var o Order
	var status string
	err := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, total_cents, order_status, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.TotalCents, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o.Status = OrderStatus(status)
	return &o, nil
}

func (t *postgresTx) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderItem, error) {
		var it OrderItem
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.PriceCents)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan order items: %w", err)
	}
	return items, nil
}

func (t *postgresTx) UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET order_status = $2, updated_at = NOW() WHERE id = $1
	`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	start := time.Now()
	err := t.tx.Commit(ctx)
	metrics.RecordDatabaseQuery("commit", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}
