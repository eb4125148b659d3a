package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/Deng123666/e-commerce/internal/logging"
	"github.com/Deng123666/e-commerce/internal/metrics"
	"github.com/Deng123666/e-commerce/internal/store"
)

// CancelOrder cancels a customer's order and returns every line's quantity
// to stock under the product locks. A product that had sold out becomes
// active again.
func (c *Coordinator) CancelOrder(ctx context.Context, customerID, orderID int64) (err error) {
	logger := logging.CheckoutLogger(c.logger, customerID).With().Int64("orderId", orderID).Logger()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// Cancels of the same customer's orders serialize with their checkouts.
	err = c.locks.WithOrderLock(ctx, customerID, func(ctx context.Context) error {
		tx, err := c.store.Begin(ctx)
		if err != nil {
			return storageError("begin", err)
		}
		committed := false
		defer func() {
			if !committed {
				c.rollback(ctx, logger, tx)
			}
		}()

		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound
			}
			return storageError("read order", err)
		}
		if order.CustomerID != customerID {
			return ErrNotOrderOwner
		}
		if order.Status == store.OrderStatusCanceled {
			return ErrOrderAlreadyCanceled
		}

		items, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return storageError("read order items", err)
		}

		lines := aggregate(items, func(it store.OrderItem) (int64, int) { return it.ProductID, it.Quantity })
		for _, line := range lines {
			err := c.locks.WithProductLock(ctx, line.productID, func(ctx context.Context) error {
				_, err := c.incrementStock(ctx, tx, line.productID, line.quantity)
				return err
			})
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, store.OrderStatusCanceled); err != nil {
			return storageError("update order status", err)
		}

		if err := c.commit(ctx, tx); err != nil {
			return err
		}
		committed = true

		for range lines {
			metrics.RecordStockAdjustment("cancel")
		}
		return nil
	})
	if err != nil {
		err = classify("cancel order", err)
		c.logFailure(logger, err, "order cancellation failed")
		return err
	}

	logger.Info().Msg("order canceled")
	return nil
}

// Restock adds quantity units to a product under its stock lock and returns
// the updated product.
func (c *Coordinator) Restock(ctx context.Context, productID int64, quantity int) (*store.Product, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	logger := c.logger.With().Int64("productId", productID).Logger()
	start := time.Now()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var updated *store.Product
	err := c.locks.WithProductLock(ctx, productID, func(ctx context.Context) error {
		tx, err := c.store.Begin(ctx)
		if err != nil {
			return storageError("begin", err)
		}
		committed := false
		defer func() {
			if !committed {
				c.rollback(ctx, logger, tx)
			}
		}()

		p, err := c.incrementStock(ctx, tx, productID, quantity)
		if err != nil {
			return err
		}
		if err := c.commit(ctx, tx); err != nil {
			return err
		}
		committed = true
		updated = p
		return nil
	})
	if err != nil {
		err = classify("restock", err)
		c.logFailure(logger, err, "restock failed")
		return nil, err
	}

	metrics.RecordStockAdjustment("restock")
	logger.Info().
		Int("quantity", quantity).
		Int("stock", updated.Stock).
		Dur("latency", time.Since(start)).
		Msg("product restocked")
	return updated, nil
}

// incrementStock adds quantity to a product under its row lock. A sold-out
// product goes back to active; a product deactivated with stock left stays
// inactive.
func (c *Coordinator) incrementStock(ctx context.Context, tx store.Tx, productID int64, quantity int) (*store.Product, error) {
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, storageError("read stock", err)
	}

	if p.Stock == 0 {
		p.IsActive = true
	}
	p.Stock += quantity
	if err := tx.UpdateProductStock(ctx, productID, p.Stock, p.IsActive); err != nil {
		return nil, storageError("update stock", err)
	}
	return p, nil
}
