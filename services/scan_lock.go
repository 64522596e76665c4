package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScanLock guards against double submission of the same guest's scan: a
// staff member tapping twice, or two devices scanning the same QR within a
// couple of seconds. It is a best-effort dedupe, not a correctness
// mechanism — the ledger transaction stays correct without it.
type ScanLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewScanLock wraps a Redis client; rdb may be nil, in which case every
// Acquire succeeds (single-instance deployments degrade gracefully).
func NewScanLock(rdb *redis.Client, ttl time.Duration) *ScanLock {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &ScanLock{rdb: rdb, ttl: ttl}
}

// Acquire takes the per-user lock. Returns false when a scan for the same
// user is already in flight.
func (l *ScanLock) Acquire(ctx context.Context, userID string) (bool, error) {
	if l.rdb == nil {
		return true, nil
	}
	key := fmt.Sprintf("scanlock:%s", userID)
	return l.rdb.SetNX(ctx, key, time.Now().UnixMilli(), l.ttl).Result()
}

// Release frees the lock early; the TTL covers crashed callers.
func (l *ScanLock) Release(ctx context.Context, userID string) {
	if l.rdb == nil {
		return
	}
	l.rdb.Del(ctx, fmt.Sprintf("scanlock:%s", userID))
}
