package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for testing and
// development. Transactions buffer their writes and apply them atomically on
// commit; GetProductForUpdate and GetOrderForUpdate take row locks held until
// the transaction ends, mirroring SELECT ... FOR UPDATE.
type MemoryStore struct {
	mu        sync.Mutex
	products  map[int64]Product
	carts     map[int64][]CartItem
	orders    map[int64]Order
	items     map[int64][]OrderItem
	rowLocks  map[string]chan struct{}
	commitErr error

	nextCartID  int64
	nextOrderID int64
	nextItemID  int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]Product),
		carts:    make(map[int64][]CartItem),
		orders:   make(map[int64]Order),
		items:    make(map[int64][]OrderItem),
		rowLocks: make(map[string]chan struct{}),
	}
}

// PutProduct creates or replaces a product.
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.products[p.ID] = p
}

// Product returns the committed state of a product.
func (s *MemoryStore) Product(id int64) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	return p, ok
}

// AddCartItem appends a line to a customer's cart.
func (s *MemoryStore) AddCartItem(customerID, productID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCartID++
	s.carts[customerID] = append(s.carts[customerID], CartItem{
		ID:         s.nextCartID,
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
	})
}

// Orders returns the committed orders of a customer ordered by id.
func (s *MemoryStore) Orders(customerID int64) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderItems returns the committed lines of an order.
func (s *MemoryStore) OrderItems(orderID int64) []OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]OrderItem(nil), s.items[orderID]...)
}

// SetCommitError makes every subsequent Commit fail with err (nil to reset).
func (s *MemoryStore) SetCommitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commitErr = err
}

// Begin implements Store.Begin.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		s:        s,
		products: make(map[int64]Product),
		orders:   make(map[int64]Order),
		items:    make(map[int64][]OrderItem),
		cleared:  make(map[int64]bool),
		held:     make(map[string]chan struct{}),
	}, nil
}

// ListCartItems implements Store.ListCartItems.
func (s *MemoryStore) ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cartLocked(customerID, nil), nil
}

// Ping implements Store.Ping.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// cartLocked joins a cart with product prices, reading pending product
// writes from overlay first. Must be called with mu held.
func (s *MemoryStore) cartLocked(customerID int64, overlay map[int64]Product) []CartItem {
	lines := s.carts[customerID]
	out := make([]CartItem, 0, len(lines))
	for _, line := range lines {
		p, ok := overlay[line.ProductID]
		if !ok {
			if p, ok = s.products[line.ProductID]; !ok {
				// Inner join semantics: lines for deleted products drop out.
				continue
			}
		}
		line.PriceCents = p.PriceCents
		out = append(out, line)
	}
	return out
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.rowLocks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[key] = ch
	}
	return ch
}

// memoryTx buffers writes until commit.
type memoryTx struct {
	s *MemoryStore

	products map[int64]Product
	orders   map[int64]Order
	items    map[int64][]OrderItem
	cleared  map[int64]bool
	held     map[string]chan struct{}
	done     bool
}

func (tx *memoryTx) check(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	return ctx.Err()
}

// lockRow blocks until the row lock is held by this transaction or ctx is done.
func (tx *memoryTx) lockRow(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	ch := tx.s.rowLock(key)
	select {
	case ch <- struct{}{}:
		tx.held[key] = ch
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for row lock %s: %w", key, ctx.Err())
	}
}

func (tx *memoryTx) unlockRows() {
	for key, ch := range tx.held {
		if ch != nil {
			<-ch
		}
		delete(tx.held, key)
	}
}

func (tx *memoryTx) ListCartItems(ctx context.Context, customerID int64) ([]CartItem, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if tx.cleared[customerID] {
		return []CartItem{}, nil
	}

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	return tx.s.cartLocked(customerID, tx.products), nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, productID int64) (*Product, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if err := tx.lockRow(ctx, fmt.Sprintf("product:%d", productID)); err != nil {
		return nil, err
	}

	if p, ok := tx.products[productID]; ok {
		return &p, nil
	}

	tx.s.mu.Lock()
	p, ok := tx.s.products[productID]
	tx.s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID int64, stock int, active bool) error {
	if err := tx.check(ctx); err != nil {
		return err
	}

	p, ok := tx.products[productID]
	if !ok {
		tx.s.mu.Lock()
		p, ok = tx.s.products[productID]
		tx.s.mu.Unlock()
		if !ok {
			return ErrNotFound
		}
	}

	p.Stock = stock
	p.IsActive = active
	p.UpdatedAt = time.Now()
	tx.products[productID] = p
	return nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order *Order) (*Order, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}

	tx.s.mu.Lock()
	tx.s.nextOrderID++
	id := tx.s.nextOrderID
	tx.s.mu.Unlock()

	now := time.Now()
	created := *order
	created.ID = id
	if created.Status == "" {
		created.Status = OrderStatusPending
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	tx.orders[id] = created
	// The creating transaction owns the new row.
	tx.held[fmt.Sprintf("order:%d", id)] = nil

	return &created, nil
}

func (tx *memoryTx) CreateOrderItems(ctx context.Context, items []OrderItem) ([]OrderItem, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}

	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		tx.s.mu.Lock()
		tx.s.nextItemID++
		item.ID = tx.s.nextItemID
		tx.s.mu.Unlock()

		tx.items[item.OrderID] = append(tx.items[item.OrderID], item)
		out = append(out, item)
	}
	return out, nil
}

func (tx *memoryTx) ClearCart(ctx context.Context, customerID int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.cleared[customerID] = true
	return nil
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, orderID int64) (*Order, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if o, ok := tx.orders[orderID]; ok {
		return &o, nil
	}
	if err := tx.lockRow(ctx, fmt.Sprintf("order:%d", orderID)); err != nil {
		return nil, err
	}

	tx.s.mu.Lock()
	o, ok := tx.s.orders[orderID]
	tx.s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (tx *memoryTx) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}

	tx.s.mu.Lock()
	out := append([]OrderItem(nil), tx.s.items[orderID]...)
	tx.s.mu.Unlock()

	out = append(out, tx.items[orderID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	o, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	tx.orders[orderID] = *o
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.done = true
	defer tx.unlockRows()

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	if tx.s.commitErr != nil {
		return tx.s.commitErr
	}

	for id, p := range tx.products {
		tx.s.products[id] = p
	}
	for id, o := range tx.orders {
		tx.s.orders[id] = o
	}
	for orderID, items := range tx.items {
		tx.s.items[orderID] = append(tx.s.items[orderID], items...)
	}
	for customerID := range tx.cleared {
		delete(tx.s.carts, customerID)
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.unlockRows()
	return nil
}
