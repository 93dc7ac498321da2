// Package appstore defines the boundary to the platform app store: the
// payment queue that reports transaction state changes, the finalize
// operation, and the product catalog. The SDK never talks to the platform
// directly; everything goes through these interfaces so hosts and tests can
// substitute their own queue.
package appstore

// TransactionState is the platform-reported state of a transaction.
type TransactionState string

const (
	StatePurchasing TransactionState = "purchasing"
	StatePurchased  TransactionState = "purchased"
	StateFailed     TransactionState = "failed"
	StateRestored   TransactionState = "restored"
	StateDeferred   TransactionState = "deferred"
)

// Payment is a purchase request handed to the platform queue.
type Payment struct {
	ProductID string
	Quantity  int
}

// Transaction is a single purchase or restore unit reported by the platform
// store. The store assigns the ID; the SDK owns the record until Finish is
// called for it.
type Transaction struct {
	// ID is the store-assigned, globally unique transaction identifier. It is
	// also the idempotency key for backend validation.
	ID        string
	ProductID string
	Quantity  int
	State     TransactionState

	// Receipt is the opaque proof-of-purchase payload. Present for purchased
	// and restored transactions.
	Receipt []byte

	// FailureReason is set for failed transactions (user cancellation,
	// payment declined, purchases not allowed).
	FailureReason string
}

// Product is a catalog entry. Price is the store-localized display price.
type Product struct {
	ID    string
	Title string
	Price string
}
