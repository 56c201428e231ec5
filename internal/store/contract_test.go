package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

// storeFactory builds a backend plus a function that moves its notion of
// time forward, so TTL behaviour can be checked on every backend.
type storeFactory struct {
	name string
	new  func(t *testing.T) (Store, func(time.Duration), func())
}

func factories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				vc := clock.NewVirtualClock(epoch)
				s := NewMemoryStore(&MemoryConfig{Clock: vc, CleanupInterval: time.Hour})
				return s, vc.Advance, func() { _ = s.Close() }
			},
		},
		{
			name: "miniredis",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				s, mr := newMiniredisStoreForTest(t)
				return s, mr.FastForward, func() {}
			},
		},
		{
			name: "redis-container",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				s, cleanup := newContainerStoreForTest(t)
				return s, time.Sleep, cleanup
			},
		},
	}
}

func TestStoreContract(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s, advance, cleanup := f.new(t)
			defer cleanup()

			contractGetSet(t, s, advance)
			contractIncrExpire(t, s, advance)
			contractSortedSet(t, s)
			contractSortedSetExpiry(t, s, advance)
			contractSubSecondTTL(t, s, advance)
			contractKeyIsolation(t, s)
		})
	}
}

func contractGetSet(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()

	_, found, err := s.Get(ctx, "gs:missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "gs:k", "hello", time.Second))
	v, found, err := s.Get(ctx, "gs:k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", v)

	advance(1100 * time.Millisecond)
	_, found, err = s.Get(ctx, "gs:k")
	require.NoError(t, err)
	assert.False(t, found, "value should expire after its ttl")
}

func contractIncrExpire(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrExpire(ctx, "ie:k", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	v, found, err := s.Get(ctx, "ie:k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "3", v)

	advance(1100 * time.Millisecond)
	n, err := s.IncrExpire(ctx, "ie:k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter should restart after expiry")
}

func contractSortedSet(t *testing.T, s Store) {
	t.Helper()
	key := "zs:k"

	_, found, err := s.ZOldest(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	for i, score := range []int64{3000, 1000, 2000, 2000} {
		require.NoError(t, s.ZAddExpire(ctx, key, score, fmt.Sprintf("%d-%d", score, i), time.Minute))
	}

	n, err := s.ZCount(ctx, key, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "bounds are inclusive and equal scores keep distinct members")

	oldest, found, err := s.ZOldest(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1000), oldest)

	removed, err := s.ZRemRangeByScore(ctx, key, math.MinInt64, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	// Pruning again without writes in between is a no-op.
	removed, err = s.ZRemRangeByScore(ctx, key, math.MinInt64, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	n, err = s.ZCount(ctx, key, math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	oldest, found, err = s.ZOldest(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3000), oldest)
}

func contractSortedSetExpiry(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	key := "zse:k"

	require.NoError(t, s.ZAddExpire(ctx, key, 1, "a", time.Second))
	advance(600 * time.Millisecond)
	// A write refreshes the ttl of the whole set.
	require.NoError(t, s.ZAddExpire(ctx, key, 2, "b", time.Second))
	advance(600 * time.Millisecond)

	n, err := s.ZCount(ctx, key, math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	advance(600 * time.Millisecond)
	n, err = s.ZCount(ctx, key, math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// contractSubSecondTTL checks that ttls are kept to the millisecond, so a
// 1500ms window is not cut to 1s.
func contractSubSecondTTL(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ttl := 1500 * time.Millisecond

	require.NoError(t, s.ZAddExpire(ctx, "sub:z", 1, "a", ttl))
	_, err := s.IncrExpire(ctx, "sub:c", ttl)
	require.NoError(t, err)

	advance(1200 * time.Millisecond)
	n, err := s.ZCount(ctx, "sub:z", math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "sorted set expired before its ttl")
	v, found, err := s.Get(ctx, "sub:c")
	require.NoError(t, err)
	assert.True(t, found, "counter expired before its ttl")
	assert.Equal(t, "1", v)

	advance(400 * time.Millisecond)
	n, err = s.ZCount(ctx, "sub:z", math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	_, found, err = s.Get(ctx, "sub:c")
	require.NoError(t, err)
	assert.False(t, found)
}

func contractKeyIsolation(t *testing.T, s Store) {
	t.Helper()

	_, err := s.IncrExpire(ctx, "iso:a", time.Minute)
	require.NoError(t, err)
	_, found, err := s.Get(ctx, "iso:b")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.ZAddExpire(ctx, "iso:za", 1, "m", time.Minute))
	n, err := s.ZCount(ctx, "iso:zb", math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
