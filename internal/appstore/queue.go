package appstore

import "context"

// Observer receives platform queue events. Calls may arrive on any goroutine,
// at any time after SetObserver, in no particular order relative to the
// host's lifecycle.
type Observer interface {
	// UpdatedTransaction reports a transaction state change.
	UpdatedTransaction(txn Transaction)

	// PromotionalIntent reports a purchase initiated from outside the app
	// (store-front promotion) for the given product.
	PromotionalIntent(product Product)

	// RestoreFinished signals that the platform has re-surfaced every
	// transaction tied to the account after a RestoreCompletedTransactions
	// call.
	RestoreFinished()
}

// Queue is the platform payment queue. Implementations deliver events to the
// registered observer and accept purchase, finalize and restore requests.
type Queue interface {
	// SetObserver registers the single event consumer. Events that occurred
	// while no observer was registered are re-delivered by the platform on
	// registration or next launch.
	SetObserver(o Observer)

	// AddPayment submits a purchase to the platform.
	AddPayment(p Payment)

	// FinishTransaction acknowledges a transaction as fully processed so the
	// platform removes it from its pending queue.
	FinishTransaction(id string) error

	// RestoreCompletedTransactions asks the platform to re-surface every
	// completed transaction tied to the account, delivered as Restored-state
	// transactions followed by RestoreFinished.
	RestoreCompletedTransactions()
}

// Catalog looks up product metadata by identifier set. A stateless
// read-through to the store catalog; identifiers unknown to the store are
// simply absent from the result.
type Catalog interface {
	Products(ctx context.Context, ids []string) ([]Product, error)
}
