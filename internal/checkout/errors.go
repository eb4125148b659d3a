package checkout

import (
	"errors"
	"fmt"

	"github.com/Deng123666/e-commerce/internal/lock"
)

var (
	// ErrEmptyCart is returned when the customer's cart has no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrBusy is returned when an order or stock lock could not be acquired
	// within its retry budget. Callers should retry later with backoff.
	ErrBusy = errors.New("another checkout is in progress, retry later")

	// ErrProductNotFound is returned when a cart or order line references a missing product.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound is returned when an order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner is returned when a customer acts on someone else's order.
	ErrNotOrderOwner = errors.New("order belongs to another customer")

	// ErrOrderAlreadyCanceled is returned when canceling a canceled order.
	ErrOrderAlreadyCanceled = errors.New("order already canceled")

	// ErrInvalidQuantity is returned for a non-positive restock quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// InsufficientStockError reports which product ran short and by how much.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Shortfall returns how many units are missing.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// StorageError wraps relational or lock-store failures. Its details are for
// server-side diagnostics only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// classify maps errors escaping a locked section onto the checkout taxonomy.
// Business errors and StorageErrors pass through unchanged.
func classify(op string, err error) error {
	var stockErr *InsufficientStockError
	var storeErr *StorageError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lock.ErrNotAcquired):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.As(err, &stockErr), errors.As(err, &storeErr):
		return err
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrNotOrderOwner),
		errors.Is(err, ErrOrderAlreadyCanceled):
		return err
	default:
		return storageError(op, err)
	}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	var stockErr *InsufficientStockError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	default:
		return "storage_error"
	}
}
