// Package purchasekit sells digital goods through a platform app store while
// outsourcing entitlement bookkeeping to a remote receipt validation service.
//
// The engine observes the platform payment queue, reconciles each transaction
// against the backend exactly once, and maintains a single authoritative
// snapshot of the user's entitlements. Construct one Engine per app user as
// soon as a unique user ID is available:
//
//	engine, err := purchasekit.New(apiKey, appUserID, purchasekit.WithQueue(queue))
//	if err != nil { ... }
//	engine.SetListener(myListener)
//	engine.Purchase("gold_100")
//
// No transaction is forwarded to the listener until SetListener is called, so
// purchases interrupted in a previous run are not reported before the host is
// ready to handle them.
package purchasekit

import (
	"purchasekit/internal/appstore"
	"purchasekit/internal/notifier"
	"purchasekit/internal/purchaserinfo"
)

// Version is the SDK version reported alongside validation requests.
const Version = "0.4.0"

// Re-exported domain types. The packages under internal hold the behavior;
// these aliases are the public surface.
type (
	Transaction      = appstore.Transaction
	TransactionState = appstore.TransactionState
	Payment          = appstore.Payment
	Product          = appstore.Product
	Queue            = appstore.Queue
	Catalog          = appstore.Catalog
	MemoryQueue      = appstore.MemoryQueue
	MemoryCatalog    = appstore.MemoryCatalog

	PurchaserInfo = purchaserinfo.PurchaserInfo
	Entitlement   = purchaserinfo.Entitlement

	Listener        = notifier.Listener
	RestoreListener = notifier.RestoreListener
	PromoListener   = notifier.PromoListener
	PromoDecision   = notifier.PromoDecision
	Deferment       = notifier.Deferment
)

// Transaction states.
const (
	StatePurchasing = appstore.StatePurchasing
	StatePurchased  = appstore.StatePurchased
	StateFailed     = appstore.StateFailed
	StateRestored   = appstore.StateRestored
	StateDeferred   = appstore.StateDeferred
)

// Promotional purchase decisions.
const (
	PromoDecline   = notifier.PromoDecline
	PromoAuthorize = notifier.PromoAuthorize
	PromoDefer     = notifier.PromoDefer
)

// NewMemoryQueue returns the in-process payment queue used in tests and local
// development.
func NewMemoryQueue() *MemoryQueue { return appstore.NewMemoryQueue() }

// NewMemoryCatalog returns an in-process product catalog.
func NewMemoryCatalog() *MemoryCatalog { return appstore.NewMemoryCatalog() }
