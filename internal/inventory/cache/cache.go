// Package cache keeps short lived availability counts in Redis so search pages
// do not hit the ledger row on every render. The ledger stays authoritative: a
// cached count is only ever shown, never used to admit a booking.
//
// Fills are not versioned. A reader that loaded the ledger before a booking
// committed can write its count after the booking's Invalidate, and that
// count is then served until TTL runs out.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-railway/internal/models"
)

const keyPrefix = "availability:"

type Availability struct {
	Client *redis.Client
	TTL    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Availability {
	return &Availability{Client: client, TTL: ttl}
}

func cacheKey(key models.LedgerKey) string {
	return keyPrefix + key.TrainNo + ":" + key.ClassID + ":" + key.TravelDate
}

// Get returns the cached count and whether it was present.
func (a *Availability) Get(ctx context.Context, key models.LedgerKey) (int, bool, error) {
	val, err := a.Client.Get(ctx, cacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		// Corrupt entry; drop it and report a miss.
		a.Client.Del(ctx, cacheKey(key))
		return 0, false, nil
	}
	return n, true, nil
}

func (a *Availability) Set(ctx context.Context, key models.LedgerKey, available int) error {
	if err := a.Client.Set(ctx, cacheKey(key), available, a.TTL).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the cached count after a booking or cancellation changed it.
func (a *Availability) Invalidate(ctx context.Context, key models.LedgerKey) error {
	if err := a.Client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}
