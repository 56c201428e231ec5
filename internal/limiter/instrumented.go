package limiter

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/metrics"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// instrumentedStore times every store call the algorithms make.
type instrumentedStore struct {
	store.Store
	m *metrics.Metrics
}

func instrument(s store.Store, m *metrics.Metrics) store.Store {
	if m == nil {
		return s
	}
	return instrumentedStore{Store: s, m: m}
}

func (s instrumentedStore) Get(ctx context.Context, key string) (string, bool, error) {
	defer s.observe("get", time.Now())
	return s.Store.Get(ctx, key)
}

func (s instrumentedStore) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	defer s.observe("incr_expire", time.Now())
	return s.Store.IncrExpire(ctx, key, ttl)
}

func (s instrumentedStore) ZAddExpire(ctx context.Context, key string, score int64, member string, ttl time.Duration) error {
	defer s.observe("zadd_expire", time.Now())
	return s.Store.ZAddExpire(ctx, key, score, member, ttl)
}

func (s instrumentedStore) ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error) {
	defer s.observe("zremrangebyscore", time.Now())
	return s.Store.ZRemRangeByScore(ctx, key, min, max)
}

func (s instrumentedStore) ZCount(ctx context.Context, key string, min, max int64) (int64, error) {
	defer s.observe("zcount", time.Now())
	return s.Store.ZCount(ctx, key, min, max)
}

func (s instrumentedStore) ZOldest(ctx context.Context, key string) (int64, bool, error) {
	defer s.observe("zoldest", time.Now())
	return s.Store.ZOldest(ctx, key)
}

func (s instrumentedStore) observe(op string, start time.Time) {
	s.m.ObserveStore(op, time.Since(start))
}
