package notifier

import (
	"log/slog"
	"sync"

	"purchasekit/internal/appstore"
	"purchasekit/internal/purchaserinfo"
)

// Notifier holds a non-owning reference to at most one listener. Events
// emitted while no listener is attached are buffered in order and flushed on
// the next Attach; detaching suspends delivery but never drops events.
type Notifier struct {
	mu       sync.Mutex
	listener Listener
	pending  []func(Listener)
	logger   *slog.Logger
}

type Option func(*Notifier)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

func New(opts ...Option) *Notifier {
	n := &Notifier{logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Attach registers the listener and flushes buffered events to it, in order.
func (n *Notifier) Attach(l Listener) {
	n.mu.Lock()
	n.listener = l
	replay := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, deliver := range replay {
		deliver(l)
	}
}

// Detach suspends delivery. Subsequent events buffer until re-attach.
func (n *Notifier) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = nil
}

// Attached reports whether a listener is currently registered.
func (n *Notifier) Attached() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listener != nil
}

func (n *Notifier) TransactionCompleted(txn appstore.Transaction, info *purchaserinfo.PurchaserInfo) {
	n.emit(func(l Listener) { l.TransactionCompleted(txn, info) })
}

func (n *Notifier) TransactionFailed(txn appstore.Transaction, failure error) {
	n.emit(func(l Listener) { l.TransactionFailed(txn, failure) })
}

func (n *Notifier) PurchaserInfoUpdated(info *purchaserinfo.PurchaserInfo) {
	n.emit(func(l Listener) { l.PurchaserInfoUpdated(info) })
}

// RestoreCompleted delivers the aggregated restore success. Listeners without
// the RestoreListener capability get a log line instead.
func (n *Notifier) RestoreCompleted(info *purchaserinfo.PurchaserInfo) {
	n.emit(func(l Listener) {
		rl, ok := l.(RestoreListener)
		if !ok {
			n.logger.Info("restore completed; listener has no restore capability", "app_user_id", info.AppUserID)
			return
		}
		rl.RestoreCompleted(info)
	})
}

// RestoreFailed delivers the aggregated restore failure.
func (n *Notifier) RestoreFailed(failure error) {
	n.emit(func(l Listener) {
		rl, ok := l.(RestoreListener)
		if !ok {
			n.logger.Warn("restore failed; listener has no restore capability", "error", failure)
			return
		}
		rl.RestoreFailed(failure)
	})
}

// PromoIntent asks the listener how to handle a promotional purchase. This is
// a synchronous query, not a bufferable event: with no listener attached or
// no promo capability the answer is PromoDecline.
func (n *Notifier) PromoIntent(product appstore.Product, deferment *Deferment) PromoDecision {
	n.mu.Lock()
	l := n.listener
	n.mu.Unlock()

	pl, ok := l.(PromoListener)
	if !ok {
		return PromoDecline
	}
	return pl.ShouldPurchasePromo(product, deferment)
}

func (n *Notifier) emit(deliver func(Listener)) {
	n.mu.Lock()
	l := n.listener
	if l == nil {
		n.pending = append(n.pending, deliver)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	deliver(l)
}
