package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
)

const defaultCleanupInterval = time.Minute

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	Clock           clock.Clock   `mapstructure:"-" yaml:"-"`
}

// MemoryStore is a single-process Store. Expiry is evaluated against a Clock,
// so a VirtualClock drives TTLs in tests and replays. Sorted sets are kept in
// a B-tree ordered by (score, member).
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]*memEntry

	closed    bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type memEntry struct {
	value     string
	zset      *sortedSet
	expiresAt time.Time // zero value means no expiration
}

type zMember struct {
	score  int64
	member string
}

func lessZ(a, b zMember) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

type sortedSet struct {
	tree   *btree.BTreeG[zMember]
	scores map[string]int64
}

func newSortedSet() *sortedSet {
	return &sortedSet{
		tree:   btree.NewBTreeG[zMember](lessZ),
		scores: make(map[string]int64),
	}
}

func (z *sortedSet) add(score int64, member string) {
	if old, ok := z.scores[member]; ok {
		z.tree.Delete(zMember{score: old, member: member})
	}
	z.scores[member] = score
	z.tree.Set(zMember{score: score, member: member})
}

// rangeByScore returns members with min <= score <= max in ascending order.
func (z *sortedSet) rangeByScore(min, max int64) []zMember {
	var out []zMember
	z.tree.Ascend(zMember{score: min}, func(m zMember) bool {
		if m.score > max {
			return false
		}
		out = append(out, m)
		return true
	})
	return out
}

func (z *sortedSet) remove(m zMember) {
	z.tree.Delete(m)
	delete(z.scores, m.member)
}

// NewMemoryStore constructs a memory-backed Store and starts its janitor.
func NewMemoryStore(cfg *MemoryConfig) *MemoryStore {
	interval := defaultCleanupInterval
	var clk clock.Clock = clock.NewRealClock()
	if cfg != nil {
		if cfg.CleanupInterval > 0 {
			interval = cfg.CleanupInterval
		}
		if cfg.Clock != nil {
			clk = cfg.Clock
		}
	}

	s := &MemoryStore{
		clock:  clk,
		items:  make(map[string]*memEntry),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.cleanupLoop(interval)
	return s
}

// lookup returns the live entry for key, dropping it if expired.
// Must be called with s.mu held.
func (s *MemoryStore) lookup(key string, now time.Time) *memEntry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return e
}

func (s *MemoryStore) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.begin(ctx); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	e := s.lookup(key, s.clock.Now())
	if e == nil {
		return "", false, nil
	}
	if e.zset != nil {
		return "", false, ErrWrongType
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	e := &memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *MemoryStore) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	now := s.clock.Now()
	e := s.lookup(key, now)
	var current int64
	if e == nil {
		e = &memEntry{}
		s.items[key] = e
	} else {
		if e.zset != nil {
			return 0, ErrWrongType
		}
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
	}

	current++
	e.value = strconv.FormatInt(current, 10)
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return current, nil
}

func (s *MemoryStore) ZAddExpire(ctx context.Context, key string, score int64, member string, ttl time.Duration) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	now := s.clock.Now()
	e := s.lookup(key, now)
	if e == nil {
		e = &memEntry{zset: newSortedSet()}
		s.items[key] = e
	} else if e.zset == nil {
		return ErrWrongType
	}

	e.zset.add(score, member)
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return nil
}

func (s *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	e := s.lookup(key, s.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.zset == nil {
		return 0, ErrWrongType
	}

	victims := e.zset.rangeByScore(min, max)
	for _, m := range victims {
		e.zset.remove(m)
	}
	if e.zset.tree.Len() == 0 {
		delete(s.items, key)
	}
	return int64(len(victims)), nil
}

func (s *MemoryStore) ZCount(ctx context.Context, key string, min, max int64) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	e := s.lookup(key, s.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.zset == nil {
		return 0, ErrWrongType
	}
	return int64(len(e.zset.rangeByScore(min, max))), nil
}

func (s *MemoryStore) ZOldest(ctx context.Context, key string) (int64, bool, error) {
	if err := s.begin(ctx); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	e := s.lookup(key, s.clock.Now())
	if e == nil {
		return 0, false, nil
	}
	if e.zset == nil {
		return 0, false, ErrWrongType
	}
	m, ok := e.zset.tree.Min()
	if !ok {
		return 0, false, nil
	}
	return m.score, true, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of keys, including expired ones not yet cleaned up.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// TTL returns the remaining time-to-live of key, or 0 when the key is
// missing or has no expiration.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	e := s.lookup(key, now)
	if e == nil || e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(now)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		close(s.doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup removes all expired keys.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, e := range s.items {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.items, key)
		}
	}
}

// Close stops the janitor. Later operations return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}
