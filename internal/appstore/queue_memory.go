package appstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue. It backs every engine test and lets
// host applications run purchase flows without a real platform store. It
// mimics the platform contract: events delivered while no observer is
// registered are held and re-delivered on registration, and unfinished
// transactions stay pending until FinishTransaction.
type MemoryQueue struct {
	mu         sync.Mutex
	observer   Observer
	pending    []Transaction
	restorable []Transaction
	finished   map[string]int
	failReason string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{finished: make(map[string]int)}
}

func (q *MemoryQueue) SetObserver(o Observer) {
	q.mu.Lock()
	q.observer = o
	replay := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, txn := range replay {
		o.UpdatedTransaction(txn)
	}
}

// AddPayment runs the purchase immediately: a Purchasing event followed by
// Purchased, or Failed when FailNextPurchase was armed.
func (q *MemoryQueue) AddPayment(p Payment) {
	qty := p.Quantity
	if qty < 1 {
		qty = 1
	}
	id := uuid.NewString()

	q.deliver(Transaction{ID: id, ProductID: p.ProductID, Quantity: qty, State: StatePurchasing})

	q.mu.Lock()
	reason := q.failReason
	q.failReason = ""
	q.mu.Unlock()

	if reason != "" {
		q.deliver(Transaction{ID: id, ProductID: p.ProductID, Quantity: qty, State: StateFailed, FailureReason: reason})
		return
	}
	q.deliver(Transaction{
		ID:        id,
		ProductID: p.ProductID,
		Quantity:  qty,
		State:     StatePurchased,
		Receipt:   []byte("receipt-" + p.ProductID + "-" + id),
	})
}

func (q *MemoryQueue) FinishTransaction(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished[id]++
	return nil
}

func (q *MemoryQueue) RestoreCompletedTransactions() {
	q.mu.Lock()
	batch := make([]Transaction, len(q.restorable))
	copy(batch, q.restorable)
	q.mu.Unlock()

	for _, txn := range batch {
		q.deliver(txn)
	}

	q.mu.Lock()
	o := q.observer
	q.mu.Unlock()
	if o != nil {
		o.RestoreFinished()
	}
}

// Deliver injects a raw transaction event, as the platform would. Tests use
// it to simulate re-deliveries and interrupted purchases from earlier runs.
func (q *MemoryQueue) Deliver(txn Transaction) {
	q.deliver(txn)
}

// SendPromotionalIntent simulates a purchase initiated from the store front.
func (q *MemoryQueue) SendPromotionalIntent(product Product) {
	q.mu.Lock()
	o := q.observer
	q.mu.Unlock()
	if o != nil {
		o.PromotionalIntent(product)
	}
}

// SeedRestorable stages transactions that a later
// RestoreCompletedTransactions call will re-surface.
func (q *MemoryQueue) SeedRestorable(txns ...Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, txn := range txns {
		txn.State = StateRestored
		if txn.ID == "" {
			txn.ID = uuid.NewString()
		}
		q.restorable = append(q.restorable, txn)
	}
}

// FailNextPurchase makes the next AddPayment end in a Failed transaction.
func (q *MemoryQueue) FailNextPurchase(reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failReason = reason
}

// FinishCount reports how many times FinishTransaction was called for id.
func (q *MemoryQueue) FinishCount(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished[id]
}

func (q *MemoryQueue) deliver(txn Transaction) {
	q.mu.Lock()
	o := q.observer
	if o == nil {
		q.pending = append(q.pending, txn)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	o.UpdatedTransaction(txn)
}

// MemoryCatalog is an in-process Catalog for tests and local development.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]Product)}
}

func (c *MemoryCatalog) Seed(products ...Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range products {
		c.products[p.ID] = p
	}
}

func (c *MemoryCatalog) Products(_ context.Context, ids []string) ([]Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
