// Package throttle implements a fixed-window rate limiter and a circuit
// breaker on top of a shared counter store.
package throttle

import (
	"context"
	"time"
)

// Store holds expiring counters and values. Implementations live in
// library/db/sql/counter and library/db/redis.
type Store interface {
	// Incr adds one to key and returns the new count. A new key expires after ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the value of key. ok is false for missing or expired keys.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Clock returns the current time.
type Clock func() time.Time
