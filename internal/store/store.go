// Package store provides interfaces and implementations for the relational
// data the checkout core reads and writes: carts, products, orders and
// order items.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTxDone is returned when a transaction is used after Commit or Rollback.
	ErrTxDone = errors.New("transaction already committed or rolled back")
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// Product is the part of a catalog product checkout cares about.
type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"priceCents"`
	Stock      int       `json:"stock"`
	IsActive   bool      `json:"isActive"`
	VendorID   int64     `json:"vendorId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CartItem is one line of a customer's cart, joined with the product's
// current price.
type CartItem struct {
	ID         int64 `json:"id"`
	CustomerID int64 `json:"customerId"`
	ProductID  int64 `json:"productId"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"priceCents"`
}

// Order is an order header.
type Order struct {
	ID         int64       `json:"id"`
	CustomerID int64       `json:"customerId"`
	TotalCents int64       `json:"totalCents"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID         int64 `json:"id"`
	OrderID    int64 `json:"orderId"`
	ProductID  int64 `json:"productId"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"priceCents"`
}

// Store is the entry point to the relational layer.
type Store interface {
	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// ListCartItems reads a customer's cart outside any transaction.
	ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error)

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error
}

// Tx is a relational transaction. Nothing written through it is visible to
// other transactions before Commit; Rollback discards all of it.
type Tx interface {
	// ListCartItems reads a customer's cart lines ordered by id.
	ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error)

	// GetProductForUpdate reads a product and holds its row lock until the
	// transaction ends. Returns ErrNotFound if it does not exist.
	GetProductForUpdate(ctx context.Context, productID int64) (*Product, error)

	// UpdateProductStock sets a product's stock and active flag.
	UpdateProductStock(ctx context.Context, productID int64, stock int, active bool) error

	// CreateOrder inserts an order header and returns it with its id.
	CreateOrder(ctx context.Context, order *Order) (*Order, error)

	// CreateOrderItems inserts order lines and returns them with their ids.
	CreateOrderItems(ctx context.Context, items []OrderItem) ([]OrderItem, error)

	// ClearCart deletes all cart lines of a customer.
	ClearCart(ctx context.Context, customerID int64) error

	// GetOrderForUpdate reads an order and holds its row lock until the
	// transaction ends. Returns ErrNotFound if it does not exist.
	GetOrderForUpdate(ctx context.Context, orderID int64) (*Order, error)

	// ListOrderItems reads an order's lines ordered by id.
	ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)

	// UpdateOrderStatus sets an order's status.
	UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error

	// Commit makes the transaction's writes visible atomically.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}
