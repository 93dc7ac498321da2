package purchaserinfo

import (
	"context"
	"sync"

	"purchasekit/pkg/platform/sentinel"
)

// Cache keeps the latest accepted snapshot per app user ID.
//
// Update installs info only when its generation is not older than the cached
// snapshot; a stale snapshot is silently discarded and reported as not
// accepted, but the operation still succeeds (last-accepted-write-wins).
type Cache interface {
	Update(ctx context.Context, appUserID string, info *PurchaserInfo) (accepted bool, err error)

	// Current returns the latest accepted snapshot, or sentinel.ErrNotFound
	// when none has arrived yet.
	Current(ctx context.Context, appUserID string) (*PurchaserInfo, error)
}

// MemoryCache is the default single-process Cache. Writes are serialized
// through the engine loop; readers always observe a fully-formed snapshot.
type MemoryCache struct {
	mu      sync.RWMutex
	current map[string]*PurchaserInfo
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{current: make(map[string]*PurchaserInfo)}
}

func (c *MemoryCache) Update(_ context.Context, appUserID string, info *PurchaserInfo) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.current[appUserID]; ok && info.OlderThan(cur) {
		return false, nil
	}
	c.current[appUserID] = info
	return true, nil
}

func (c *MemoryCache) Current(_ context.Context, appUserID string) (*PurchaserInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.current[appUserID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return info, nil
}
