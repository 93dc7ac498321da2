// Package promo manages purchases initiated from outside the app, such as
// store-front promotions. Per product the flow is: intent announced → host
// authorizes, defers, or declines → a deferred purchase resolves only when
// the host explicitly invokes its continuation.
package promo

import (
	"log/slog"
	"sync"

	"purchasekit/internal/appstore"
	"purchasekit/internal/notifier"
)

// Purchaser starts a purchase exactly as if the user had tapped buy in-app.
type Purchaser func(productID string, quantity int)

// Coordinator owns the pending deferments, at most one per product. A newer
// intent for the same product supersedes (cancels) the older deferment; only
// the latest continuation remains invokable.
type Coordinator struct {
	notifier *notifier.Notifier
	purchase Purchaser
	logger   *slog.Logger

	mu       sync.Mutex
	deferred map[string]*notifier.Deferment
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func New(n *notifier.Notifier, purchase Purchaser, opts ...Option) *Coordinator {
	c := &Coordinator{
		notifier: n,
		purchase: purchase,
		logger:   slog.Default(),
		deferred: make(map[string]*notifier.Deferment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleIntent announces an out-of-app purchase intent to the host and acts
// on its decision. The default, absent a promo-capable listener, is decline.
func (c *Coordinator) HandleIntent(product appstore.Product) {
	d := c.newDeferment(product)

	switch c.notifier.PromoIntent(product, d) {
	case notifier.PromoAuthorize:
		// The host-side copy of the deferment must not fire a second buy.
		d.Cancel()
		c.logger.Info("promotional purchase authorized", "product_id", product.ID)
		c.purchase(product.ID, 1)
	case notifier.PromoDefer:
		c.store(product.ID, d)
		c.logger.Info("promotional purchase deferred", "product_id", product.ID)
	default:
		d.Cancel()
		c.logger.Info("promotional purchase declined", "product_id", product.ID)
	}
}

// Pending reports whether a live deferment exists for the product.
func (c *Coordinator) Pending(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deferred[productID]
	return ok
}

func (c *Coordinator) newDeferment(product appstore.Product) *notifier.Deferment {
	var d *notifier.Deferment
	d = notifier.NewDeferment(func() {
		c.resolve(product.ID, d)
		c.purchase(product.ID, 1)
	})
	return d
}

func (c *Coordinator) store(productID string, d *notifier.Deferment) {
	c.mu.Lock()
	prior := c.deferred[productID]
	c.deferred[productID] = d
	c.mu.Unlock()
	if prior != nil {
		prior.Cancel()
	}
}

func (c *Coordinator) resolve(productID string, d *notifier.Deferment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferred[productID] == d {
		delete(c.deferred, productID)
	}
}
