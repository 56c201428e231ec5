// Package store holds the shared counter and ordered-set state that the
// limiter reads and writes. The limiter performs no locking of its own; all
// cross-request consistency comes from the atomic primitives defined here.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")

	// ErrWrongType is returned when a key holds a value of another kind,
	// e.g. a counter read as a sorted set.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned when incrementing a value that is not an integer.
	ErrNotInteger = errors.New("store: value is not an integer")

	// ErrCorruptValue is returned when a stored score cannot be interpreted.
	ErrCorruptValue = errors.New("store: corrupted value")
)

// Store is the contract the limiter needs from a shared key/value store.
// Implementations must be safe for concurrent use. Score bounds are
// inclusive on both ends.
type Store interface {
	// Get returns the string stored at key. found is false when the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value at key. A ttl of 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// IncrExpire atomically increments the integer at key (creating it at 1)
	// and sets its time-to-live to ttl. It returns the new value.
	IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// ZAddExpire atomically adds member with score to the sorted set at key
	// and sets the time-to-live of the whole set to ttl.
	ZAddExpire(ctx context.Context, key string, score int64, member string, ttl time.Duration) error

	// ZRemRangeByScore removes all members with min <= score <= max and
	// returns how many were removed.
	ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error)

	// ZCount counts members with min <= score <= max.
	ZCount(ctx context.Context, key string, min, max int64) (int64, error)

	// ZOldest returns the lowest score in the sorted set at key.
	ZOldest(ctx context.Context, key string) (score int64, found bool, err error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. It is idempotent.
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
