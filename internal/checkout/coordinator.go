// Package checkout turns a customer's cart into an order without overselling
// stock or creating duplicate orders, even when many server processes handle
// checkouts for the same customer or product at once.
//
// Two lock scopes are used: an order lock per customer around the whole
// checkout, and a stock lock per product around each stock check and
// decrement. Product locks are always taken in ascending product id order.
// The relational transaction provides atomicity; the locks provide exclusion.
package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/lock"
	"github.com/Deng123666/e-commerce/internal/logging"
	"github.com/Deng123666/e-commerce/internal/metrics"
	"github.com/Deng123666/e-commerce/internal/notify"
	"github.com/Deng123666/e-commerce/internal/store"
)

const (
	// DefaultCheckoutTimeout bounds a whole checkout, including lock waits.
	DefaultCheckoutTimeout = 20 * time.Second

	// DefaultCommitTimeout bounds the final commit.
	DefaultCommitTimeout = 5 * time.Second

	// DefaultNotifyTimeout bounds the fire-and-forget notification.
	DefaultNotifyTimeout = 5 * time.Second

	rollbackTimeout = 5 * time.Second
)

// OrderResult is a committed order with its lines.
type OrderResult struct {
	Order store.Order       `json:"order"`
	Items []store.OrderItem `json:"items"`
}

// Coordinator runs checkouts, cancellations and restocks under the
// distributed locks.
type Coordinator struct {
	store    store.Store
	locks    *lock.Factory
	notifier notify.Notifier
	logger   zerolog.Logger

	checkoutTimeout time.Duration
	commitTimeout   time.Duration
	notifyTimeout   time.Duration

	wg sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCheckoutTimeout bounds each operation end to end. Zero disables it.
func WithCheckoutTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.checkoutTimeout = d
	}
}

// WithCommitTimeout bounds the commit call.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.commitTimeout = d
	}
}

// WithNotifyTimeout bounds each notification delivery.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.notifyTimeout = d
	}
}

// NewCoordinator creates a checkout coordinator. notifier may be nil.
func NewCoordinator(st store.Store, locks *lock.Factory, notifier notify.Notifier, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           st,
		locks:           locks,
		notifier:        notifier,
		logger:          logger.With().Str("component", "checkout").Logger(),
		checkoutTimeout: DefaultCheckoutTimeout,
		commitTimeout:   DefaultCommitTimeout,
		notifyTimeout:   DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wait blocks until in-flight notifications have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// stockLine is the total quantity requested for one product.
type stockLine struct {
	productID int64
	quantity  int
}

// aggregate sums quantities per product and orders them by ascending id, the
// global lock order that keeps multi-product checkouts from deadlocking.
func aggregate[T any](lines []T, key func(T) (int64, int)) []stockLine {
	totals := make(map[int64]int, len(lines))
	for _, l := range lines {
		id, qty := key(l)
		totals[id] += qty
	}

	out := make([]stockLine, 0, len(totals))
	for id, qty := range totals {
		out = append(out, stockLine{productID: id, quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.checkoutTimeout > 0 {
		return context.WithTimeout(ctx, c.checkoutTimeout)
	}
	return context.WithCancel(ctx)
}

// PlaceOrder converts the customer's cart into an order.
//
// It fails with ErrEmptyCart before touching any lock when the cart is empty,
// ErrBusy when a lock stays contended, *InsufficientStockError when a product
// runs short, and *StorageError for relational or lock-store failures. Any
// failure leaves stock, orders and cart as they were.
func (c *Coordinator) PlaceOrder(ctx context.Context, customerID int64) (result *OrderResult, err error) {
	start := time.Now()
	logger := logging.CheckoutLogger(c.logger, customerID)
	defer func() {
		metrics.RecordCheckout(outcome(err), time.Since(start).Seconds())
	}()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// Early exit only; the cart is read again under the order lock.
	items, err := c.store.ListCartItems(ctx, customerID)
	if err != nil {
		return nil, storageError("read cart", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	err = c.locks.WithOrderLock(ctx, customerID, func(ctx context.Context) error {
		var err error
		result, err = c.placeOrderLocked(ctx, logger, customerID)
		return err
	})
	if err != nil {
		err = classify("checkout", err)
		c.logFailure(logger, err, "checkout failed")
		return nil, err
	}

	logger.Info().
		Int64("orderId", result.Order.ID).
		Int64("totalCents", result.Order.TotalCents).
		Int("items", len(result.Items)).
		Dur("latency", time.Since(start)).
		Msg("order placed")

	c.notifyOrderPlaced(result)
	return result, nil
}

func (c *Coordinator) placeOrderLocked(ctx context.Context, logger zerolog.Logger, customerID int64) (*OrderResult, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, storageError("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			c.rollback(ctx, logger, tx)
		}
	}()

	items, err := tx.ListCartItems(ctx, customerID)
	if err != nil {
		return nil, storageError("read cart", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	var total int64
	for _, it := range items {
		total += int64(it.Quantity) * it.PriceCents
	}

	order, err := tx.CreateOrder(ctx, &store.Order{
		CustomerID: customerID,
		TotalCents: total,
		Status:     store.OrderStatusPending,
	})
	if err != nil {
		return nil, storageError("create order", err)
	}

	var exhausted int
	lines := aggregate(items, func(it store.CartItem) (int64, int) { return it.ProductID, it.Quantity })
	for _, line := range lines {
		err := c.locks.WithProductLock(ctx, line.productID, func(ctx context.Context) error {
			soldOut, err := c.decrementStock(ctx, tx, line)
			if soldOut {
				exhausted++
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	orderItems := make([]store.OrderItem, 0, len(items))
	for _, it := range items {
		orderItems = append(orderItems, store.OrderItem{
			OrderID:    order.ID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			PriceCents: it.PriceCents,
		})
	}
	created, err := tx.CreateOrderItems(ctx, orderItems)
	if err != nil {
		return nil, storageError("create order items", err)
	}

	if err := tx.ClearCart(ctx, customerID); err != nil {
		return nil, storageError("clear cart", err)
	}

	if err := c.commit(ctx, tx); err != nil {
		return nil, err
	}
	committed = true

	for range lines {
		metrics.RecordStockAdjustment("checkout")
	}
	for i := 0; i < exhausted; i++ {
		metrics.RecordProductExhausted()
	}

	return &OrderResult{Order: *order, Items: created}, nil
}

// decrementStock re-reads the product under its row lock, verifies stock and
// writes the decrement. It reports whether the product sold out.
func (c *Coordinator) decrementStock(ctx context.Context, tx store.Tx, line stockLine) (bool, error) {
	p, err := tx.GetProductForUpdate(ctx, line.productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrProductNotFound
		}
		return false, storageError("read stock", err)
	}

	if p.Stock < line.quantity {
		return false, &InsufficientStockError{
			ProductID: line.productID,
			Available: p.Stock,
			Requested: line.quantity,
		}
	}

	newStock := p.Stock - line.quantity
	active := p.IsActive
	if newStock == 0 {
		active = false
	}

	if err := tx.UpdateProductStock(ctx, line.productID, newStock, active); err != nil {
		return false, storageError("update stock", err)
	}
	return newStock == 0, nil
}

func (c *Coordinator) commit(ctx context.Context, tx store.Tx) error {
	commitCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()

	if err := tx.Commit(commitCtx); err != nil {
		return storageError("commit", err)
	}
	return nil
}

// rollback runs even when ctx is already done.
func (c *Coordinator) rollback(ctx context.Context, logger zerolog.Logger, tx store.Tx) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := tx.Rollback(rbCtx); err != nil {
		logger.Error().Err(err).Msg("failed to roll back transaction")
	}
}

func (c *Coordinator) notifyOrderPlaced(result *OrderResult) {
	if c.notifier == nil {
		return
	}

	event := notify.OrderPlaced{
		OrderID:    result.Order.ID,
		CustomerID: result.Order.CustomerID,
		TotalCents: result.Order.TotalCents,
		ItemCount:  len(result.Items),
		PlacedAt:   result.Order.CreatedAt,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
		defer cancel()

		channel := c.notifier.Channel()
		if err := c.notifier.OrderPlaced(ctx, event); err != nil {
			metrics.RecordNotificationSent(channel, "failed")
			c.logger.Warn().
				Err(err).
				Int64("orderId", event.OrderID).
				Str("channel", channel).
				Msg("failed to send order placement notification")
			return
		}
		metrics.RecordNotificationSent(channel, "success")
	}()
}

// logFailure logs business rejections at info and everything else at error.
func (c *Coordinator) logFailure(logger zerolog.Logger, err error, msg string) {
	var stockErr *InsufficientStockError
	switch {
	case errors.Is(err, ErrBusy):
		logger.Warn().Err(err).Msg(msg)
	case errors.As(err, &stockErr):
		logger.Info().
			Int64("productId", stockErr.ProductID).
			Int("available", stockErr.Available).
			Int("requested", stockErr.Requested).
			Msg(msg)
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrNotOrderOwner),
		errors.Is(err, ErrOrderAlreadyCanceled):
		logger.Info().Err(err).Msg(msg)
	default:
		logger.Error().Err(err).Msg(msg)
	}
}
