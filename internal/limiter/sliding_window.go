package limiter

import (
	"context"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// slidingWindow keeps one timestamp entry per recorded attempt in a sorted
// set scored by milliseconds. Every check prunes entries that fell out of
// the window before counting.
type slidingWindow struct {
	store store.Store
	seq   *atomic.Uint64
}

func (sw slidingWindow) check(ctx context.Context, key string, p Policy, now time.Time) outcome {
	nowMs := now.UnixMilli()
	windowMs := p.Window.Milliseconds()
	windowStart := nowMs - windowMs

	// Upper bound for admits: every counted entry is <= now.
	o := outcome{resetAt: now.Add(p.Window)}

	if _, err := sw.store.ZRemRangeByScore(ctx, key, math.MinInt64, windowStart); err != nil {
		o.failOpen, o.reason, o.err = true, reasonStoreError, err
		return o
	}
	n, err := sw.store.ZCount(ctx, key, windowStart, nowMs)
	if err != nil {
		o.failOpen, o.reason, o.err = true, reasonStoreError, err
		return o
	}
	o.count = n
	if n < int64(p.MaxAttempts) {
		return o
	}

	oldest, found, err := sw.store.ZOldest(ctx, key)
	switch {
	case err != nil:
		o.reason, o.err = reasonStoreError, err
	case !found:
		o.reason = reasonEmptyWindow
	default:
		o.retryAfter = max((oldest+windowMs-nowMs)/1000, 0)
		o.resetAt = time.UnixMilli(oldest + windowMs)
		return o
	}
	// Conservative fallback: the full window.
	o.retryAfter = p.windowSeconds()
	return o
}

func (sw slidingWindow) record(ctx context.Context, key string, p Policy, now time.Time) error {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + strconv.FormatUint(sw.seq.Add(1), 36)
	return sw.store.ZAddExpire(ctx, key, nowMs, member, p.Window)
}
