package purchaserinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"purchasekit/pkg/platform/sentinel"
)

const (
	purchaserInfoKeyPrefix = "pk:purchaserinfo:"
	casAttempts            = 3
)

// RedisCache mirrors purchaser info across processes for hosts that run more
// than one engine instance per user. The monotonicity contract matches
// MemoryCache; the generation check runs under WATCH so concurrent writers
// from different processes cannot install an older snapshot over a newer one.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

type wireEntitlement struct {
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	OriginalTransactionID string     `json:"original_transaction_id"`
}

type wireInfo struct {
	AppUserID        string                     `json:"app_user_id"`
	RequestDate      time.Time                  `json:"request_date"`
	Entitlements     map[string]wireEntitlement `json:"entitlements"`
	ActiveProductIDs []string                   `json:"active_product_identifiers"`
}

func toWire(info *PurchaserInfo) wireInfo {
	ents := make(map[string]wireEntitlement, len(info.Entitlements))
	for id, e := range info.Entitlements {
		ents[id] = wireEntitlement{ExpiresAt: e.ExpiresAt, OriginalTransactionID: e.OriginalTransactionID}
	}
	return wireInfo{
		AppUserID:        info.AppUserID,
		RequestDate:      info.RequestDate,
		Entitlements:     ents,
		ActiveProductIDs: info.ActiveProductIDs(),
	}
}

func fromWire(w wireInfo) *PurchaserInfo {
	ents := make(map[string]Entitlement, len(w.Entitlements))
	for id, e := range w.Entitlements {
		ents[id] = Entitlement{ExpiresAt: e.ExpiresAt, OriginalTransactionID: e.OriginalTransactionID}
	}
	return New(w.AppUserID, w.RequestDate, ents, w.ActiveProductIDs)
}

func (c *RedisCache) Update(ctx context.Context, appUserID string, info *PurchaserInfo) (bool, error) {
	key := purchaserInfoKeyPrefix + appUserID
	payload, err := json.Marshal(toWire(info))
	if err != nil {
		return false, fmt.Errorf("marshal purchaser info: %w", err)
	}

	accepted := false
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cur wireInfo
			if uerr := json.Unmarshal(raw, &cur); uerr == nil && info.RequestDate.Before(cur.RequestDate) {
				accepted = false
				return nil
			}
		}
		_, perr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if perr != nil {
			return perr
		}
		accepted = true
		return nil
	}

	for i := 0; i < casAttempts; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return accepted, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("redis cache update: %w", err)
	}
	return false, fmt.Errorf("redis cache update: %w", sentinel.ErrUnavailable)
}

func (c *RedisCache) Current(ctx context.Context, appUserID string) (*PurchaserInfo, error) {
	raw, err := c.client.Get(ctx, purchaserInfoKeyPrefix+appUserID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache read: %w", err)
	}
	var w wireInfo
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode purchaser info: %w", err)
	}
	return fromWire(w), nil
}
