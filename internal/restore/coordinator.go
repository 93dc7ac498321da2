// Package restore orchestrates bulk reconciliation of every transaction tied
// to the platform account. Restored transactions trickle in from the queue;
// the coordinator batches them, validates the batch, and reports exactly one
// aggregated outcome per restore invocation.
package restore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"purchasekit/internal/appstore"
	"purchasekit/internal/purchaserinfo"
	dErrors "purchasekit/pkg/domain-errors"
)

// Validator reconciles one transaction against the backend.
type Validator interface {
	Validate(ctx context.Context, txn appstore.Transaction) (*purchaserinfo.PurchaserInfo, error)
}

// Outcome is the single aggregated result of a restore. Aggregation is
// best-effort: Err is set only when the batch was empty or no transaction
// validated; otherwise Info carries the final purchaser info and Failed the
// number of transactions that did not validate.
type Outcome struct {
	Info      *purchaserinfo.PurchaserInfo
	Validated int
	Failed    int
	Err       error
}

const validateConcurrency = 4

// Coordinator runs at most one restore batch at a time. The batch closes when
// the platform signals completion or when no transaction has arrived for the
// quiescence window, whichever comes first.
type Coordinator struct {
	validate   Validator
	finish     func(transactionID string)
	trigger    func()
	quiescence time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	active *batch
}

type batch struct {
	ctx    context.Context
	txns   []appstore.Transaction
	seen   map[string]bool
	timer  *time.Timer
	done   func(Outcome)
	closed bool
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithQuiescence(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.quiescence = d
		}
	}
}

// New constructs a Coordinator. trigger asks the platform to re-surface the
// account's transactions; finish acknowledges one transaction.
func New(v Validator, trigger func(), finish func(transactionID string), opts ...Option) *Coordinator {
	c := &Coordinator{
		validate:   v,
		finish:     finish,
		trigger:    trigger,
		quiescence: 2 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a restore. done is invoked exactly once with the aggregated
// outcome. A restore requested while one is already running fails
// immediately without disturbing the running batch.
func (c *Coordinator) Begin(ctx context.Context, done func(Outcome)) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		done(Outcome{Err: dErrors.New(dErrors.CodeInvalidInput, "restore already in progress")})
		return
	}
	b := &batch{ctx: ctx, seen: make(map[string]bool), done: done}
	b.timer = time.AfterFunc(c.quiescence, func() { c.close(b) })
	c.active = b
	c.mu.Unlock()

	c.trigger()
}

// Add feeds a Restored-state transaction into the running batch. It reports
// false when no restore is in progress; the caller then reconciles the
// transaction individually.
func (c *Coordinator) Add(txn appstore.Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.active
	if b == nil || b.closed {
		return false
	}
	if b.seen[txn.ID] {
		return true
	}
	b.seen[txn.ID] = true
	b.txns = append(b.txns, txn)
	b.timer.Reset(c.quiescence)
	return true
}

// Finish closes the batch early: the platform signalled that every
// transaction has been re-surfaced.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	b := c.active
	c.mu.Unlock()
	if b != nil {
		c.close(b)
	}
}

func (c *Coordinator) close(b *batch) {
	c.mu.Lock()
	if b.closed || c.active != b {
		c.mu.Unlock()
		return
	}
	b.closed = true
	b.timer.Stop()
	c.active = nil
	txns := b.txns
	c.mu.Unlock()

	go c.run(b.ctx, txns, b.done)
}

func (c *Coordinator) run(ctx context.Context, txns []appstore.Transaction, done func(Outcome)) {
	if len(txns) == 0 {
		done(Outcome{Err: dErrors.New(dErrors.CodeRestoreEmpty, "no transactions to restore")})
		return
	}

	var mu sync.Mutex
	var newest *purchaserinfo.PurchaserInfo
	validated, failed := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConcurrency)
	for _, txn := range txns {
		txn := txn
		g.Go(func() error {
			info, err := c.validate.Validate(gctx, txn)
			if err != nil {
				// Definitive rejections are finalized so the platform stops
				// re-delivering them; transient failures stay pending for a
				// later launch. Either way the batch continues.
				if dErrors.Has(err, dErrors.CodeBackend) {
					c.finish(txn.ID)
				}
				c.logger.Warn("restore validation failed", "transaction_id", txn.ID, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			c.finish(txn.ID)
			mu.Lock()
			validated++
			if newest == nil || newest.OlderThan(info) {
				newest = info
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if validated == 0 {
		done(Outcome{
			Failed: failed,
			Err:    dErrors.Newf(dErrors.CodeBackend, "restore failed for all %d transactions", failed),
		})
		return
	}
	done(Outcome{Info: newest, Validated: validated, Failed: failed})
}
