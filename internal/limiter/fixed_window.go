package limiter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// fixedWindow counts recorded attempts in a counter whose key carries the
// window epoch. Crossing an epoch boundary yields a fresh key, and the
// counter TTL removes the old one, so there is no explicit reset.
type fixedWindow struct {
	store store.Store
}

func (fw fixedWindow) check(ctx context.Context, key string, p Policy, now time.Time) outcome {
	windowSec := p.windowSeconds()
	nowSec := now.Unix()
	next := fixedWindowStart(nowSec, windowSec) + windowSec

	o := outcome{
		resetAt:    time.Unix(next, 0),
		retryAfter: max(next-nowSec, 0),
	}

	raw, found, err := fw.store.Get(ctx, key)
	if err != nil {
		o.failOpen, o.reason, o.err = true, reasonStoreError, err
		return o
	}
	if !found {
		return o
	}

	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		o.failOpen, o.reason = true, reasonCorruptValue
		o.err = fmt.Errorf("counter %q: %w", raw, store.ErrCorruptValue)
		return o
	}
	o.count = n
	return o
}

func (fw fixedWindow) record(ctx context.Context, key string, p Policy, _ time.Time) error {
	// The TTL is re-applied on every increment. The key already pins the
	// epoch, so this only bounds the counter's lifetime.
	_, err := fw.store.IncrExpire(ctx, key, time.Duration(p.windowSeconds())*time.Second)
	return err
}
