// Package receipt posts purchase receipts to the backend validation service
// and turns responses into purchaser info snapshots. Retries, the circuit
// breaker and idempotency all live here; callers only see terminal outcomes.
package receipt

import (
	"fmt"
	"time"
)

// Session is the credential/identity pair under which all validation requests
// are made. Immutable for the lifetime of an engine instance.
type Session struct {
	APIKey     string
	AppUserID  string
	SDKVersion string
}

// Request is the wire body of POST /v1/validate-receipt. TransactionID is the
// idempotency key: the backend must not double-count repeated submissions of
// the same transaction.
type Request struct {
	APIKey         string `json:"api_key"`
	AppUserID      string `json:"app_user_id"`
	ReceiptPayload string `json:"receipt_payload"`
	ProductID      string `json:"product_identifier"`
	Quantity       int    `json:"quantity"`
	TransactionID  string `json:"transaction_id"`
	SDKVersion     string `json:"sdk_version,omitempty"`
}

// ResponseEntitlement is one granted entitlement in a validation response.
type ResponseEntitlement struct {
	ID                    string     `json:"id"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	OriginalTransactionID string     `json:"original_transaction_id"`
}

// Response is the backend's statement of the user's entitlements after
// processing the receipt.
type Response struct {
	RequestDate              time.Time             `json:"request_date"`
	Entitlements             []ResponseEntitlement `json:"entitlements"`
	ActiveProductIdentifiers []string              `json:"active_product_identifiers"`
}

// StatusError is a non-2xx backend reply. Status < 500 is definitive (the
// receipt will not validate by retrying); 5xx is retryable.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Definitive reports whether retrying cannot change the outcome.
func (e *StatusError) Definitive() bool {
	return e.Status >= 400 && e.Status < 500
}
