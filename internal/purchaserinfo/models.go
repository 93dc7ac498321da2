// Package purchaserinfo holds the backend's authoritative statement of what
// an app user currently has access to, and the cache that keeps the latest
// snapshot per user.
package purchaserinfo

import (
	"sort"
	"time"
)

// Entitlement grants access to some capability until ExpiresAt. A nil
// ExpiresAt means the entitlement does not expire.
type Entitlement struct {
	ExpiresAt             *time.Time
	OriginalTransactionID string
}

// PurchaserInfo is an immutable snapshot of a user's entitlements as reported
// by the backend. A new snapshot replaces the old one atomically; nothing
// mutates an installed snapshot.
type PurchaserInfo struct {
	AppUserID string

	// RequestDate is the backend-side issue timestamp of this snapshot. It is
	// the generation used by the cache's monotonicity check.
	RequestDate time.Time

	Entitlements map[string]Entitlement

	activeProducts map[string]struct{}
}

// New constructs a snapshot, copying the inputs so callers cannot alias
// internal state.
func New(appUserID string, requestDate time.Time, entitlements map[string]Entitlement, activeProductIDs []string) *PurchaserInfo {
	ents := make(map[string]Entitlement, len(entitlements))
	for id, e := range entitlements {
		ents[id] = e
	}
	active := make(map[string]struct{}, len(activeProductIDs))
	for _, id := range activeProductIDs {
		active[id] = struct{}{}
	}
	return &PurchaserInfo{
		AppUserID:      appUserID,
		RequestDate:    requestDate,
		Entitlements:   ents,
		activeProducts: active,
	}
}

// HasActiveProduct reports whether the product is currently active for the
// user.
func (p *PurchaserInfo) HasActiveProduct(productID string) bool {
	_, ok := p.activeProducts[productID]
	return ok
}

// ActiveProductIDs returns the active product identifiers in sorted order.
func (p *PurchaserInfo) ActiveProductIDs() []string {
	out := make([]string, 0, len(p.activeProducts))
	for id := range p.activeProducts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OlderThan reports whether this snapshot's generation predates other's.
func (p *PurchaserInfo) OlderThan(other *PurchaserInfo) bool {
	return p.RequestDate.Before(other.RequestDate)
}
