// Package store exposes the shared state backends the limiter keeps its
// counters and attempt logs in.
package store

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalstore "github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// Store is the contract the limiter needs from a shared key/value store.
type Store = internalstore.Store

type (
	MemoryConfig = internalstore.MemoryConfig
	MemoryStore  = internalstore.MemoryStore
	RedisConfig  = internalstore.RedisConfig
	RedisStore   = internalstore.RedisStore
)

const (
	BackendMemory = internalstore.BackendMemory
	BackendRedis  = internalstore.BackendRedis
)

var (
	ErrClosed       = internalstore.ErrClosed
	ErrWrongType    = internalstore.ErrWrongType
	ErrNotInteger   = internalstore.ErrNotInteger
	ErrCorruptValue = internalstore.ErrCorruptValue
)

// NewMemoryStore creates a single-process store. Counters are not shared
// between processes.
func NewMemoryStore(cfg *MemoryConfig) *MemoryStore {
	return internalstore.NewMemoryStore(cfg)
}

// NewRedisStore connects to Redis (single node or cluster) and verifies the
// connection.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	return internalstore.NewRedisStore(cfg, logger)
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	return internalstore.NewRedisStoreFromClient(client, keyPrefix, logger)
}
