package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"purchasekit/internal/receipt"
)

// entitlementTTL is how long a mock subscription entitlement lasts. Products
// whose identifier does not look like a subscription get a non-expiring
// entitlement.
const entitlementTTL = 30 * 24 * time.Hour

type account struct {
	products     map[string]time.Time // product ID -> grant time
	transactions map[string]bool      // idempotency keys already counted
}

type handler struct {
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]*account
}

func newHandler(logger *slog.Logger) *handler {
	return &handler{logger: logger, accounts: make(map[string]*account)}
}

func (h *handler) handleValidateReceipt(w http.ResponseWriter, r *http.Request) {
	var req receipt.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.APIKey == "" || req.AppUserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "api_key and app_user_id are required")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "transaction_id is required")
		return
	}
	// Receipts containing "invalid" simulate a definitive rejection; product
	// IDs prefixed "flaky_" simulate a server-side outage.
	if strings.Contains(req.ReceiptPayload, "aW52YWxpZA") || req.ReceiptPayload == "" {
		writeError(w, http.StatusBadRequest, "invalid_receipt", "receipt could not be verified")
		return
	}
	if strings.HasPrefix(req.ProductID, "flaky_") {
		writeError(w, http.StatusInternalServerError, "unavailable", "try again later")
		return
	}

	h.mu.Lock()
	acct, ok := h.accounts[req.AppUserID]
	if !ok {
		acct = &account{products: make(map[string]time.Time), transactions: make(map[string]bool)}
		h.accounts[req.AppUserID] = acct
	}
	if !acct.transactions[req.TransactionID] {
		acct.transactions[req.TransactionID] = true
		acct.products[req.ProductID] = time.Now()
	} else {
		h.logger.Info("idempotent replay", "transaction_id", req.TransactionID)
	}

	resp := receipt.Response{RequestDate: time.Now().UTC()}
	for productID, grantedAt := range acct.products {
		ent := receipt.ResponseEntitlement{
			ID:                    entitlementID(productID),
			OriginalTransactionID: req.TransactionID,
		}
		if strings.Contains(productID, "monthly") || strings.Contains(productID, "annual") {
			expires := grantedAt.Add(entitlementTTL).UTC()
			ent.ExpiresAt = &expires
		}
		resp.Entitlements = append(resp.Entitlements, ent)
		resp.ActiveProductIdentifiers = append(resp.ActiveProductIdentifiers, productID)
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

// entitlementID maps a product to the entitlement it unlocks: everything
// before the first underscore ("pro_monthly" -> "pro").
func entitlementID(productID string) string {
	if i := strings.Index(productID, "_"); i > 0 {
		return productID[:i]
	}
	return productID
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
