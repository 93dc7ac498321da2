// Package notifier is the sole outward-facing event surface of the engine.
// It fans out state changes to the single host-registered listener, buffers
// events raised while no listener is attached, and supplies defined defaults
// for optional listener capabilities.
package notifier

import (
	"sync"

	"purchasekit/internal/appstore"
	"purchasekit/internal/purchaserinfo"
)

// Listener is the required capability set every host must implement.
// Callbacks can fire at any time after attachment, not just in response to a
// purchase call: subscriptions renew, restores land, background refreshes
// update purchaser info.
type Listener interface {
	// TransactionCompleted reports a transaction validated by the backend,
	// together with the updated purchaser info.
	TransactionCompleted(txn appstore.Transaction, info *purchaserinfo.PurchaserInfo)

	// TransactionFailed reports a transaction that ended without a successful
	// validation. The error carries a caller-facing description.
	TransactionFailed(txn appstore.Transaction, failure error)

	// PurchaserInfoUpdated reports every accepted purchaser info change,
	// including ones outside a purchase flow.
	PurchaserInfoUpdated(info *purchaserinfo.PurchaserInfo)
}

// RestoreListener is the optional restore capability. Without it, aggregated
// restore outcomes are logged and dropped.
type RestoreListener interface {
	RestoreCompleted(info *purchaserinfo.PurchaserInfo)
	RestoreFailed(failure error)
}

// PromoDecision is the host's answer to a promotional purchase intent.
type PromoDecision int

const (
	// PromoDecline drops the intent. This is the default when the listener
	// does not implement PromoListener: promotional purchases are opt-in.
	PromoDecline PromoDecision = iota
	// PromoAuthorize starts the purchase immediately.
	PromoAuthorize
	// PromoDefer stores the deferment; the host invokes it when ready.
	PromoDefer
)

// PromoListener is the optional promotional purchase capability.
type PromoListener interface {
	// ShouldPurchasePromo decides how to handle a purchase initiated from
	// outside the app. On PromoDefer the host must keep deferment and call
	// Invoke when it is ready to proceed.
	ShouldPurchasePromo(product appstore.Product, deferment *Deferment) PromoDecision
}

// Deferment resumes a deferred promotional purchase. Invoke is at-most-once:
// invoking an already-invoked or superseded deferment is a no-op (a newer
// intent for the same product supersedes the older deferment).
type Deferment struct {
	mu   sync.Mutex
	run  func()
	done bool
}

// NewDeferment wraps the purchase continuation.
func NewDeferment(run func()) *Deferment {
	return &Deferment{run: run}
}

// Invoke resumes the purchase. Returns whether the continuation actually ran.
func (d *Deferment) Invoke() bool {
	d.mu.Lock()
	if d.done || d.run == nil {
		d.mu.Unlock()
		return false
	}
	run := d.run
	d.done = true
	d.mu.Unlock()

	run()
	return true
}

// Cancel invalidates the deferment without running it.
func (d *Deferment) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
}
