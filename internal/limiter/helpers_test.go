package limiter

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

// staticFingerprint keys callers on the X-Caller header only.
var staticFingerprint = fingerprint.FingerprinterFunc(func(a fingerprint.Attributes) string {
	v, _ := a.HeaderValue("X-Caller")
	return "caller-" + v
})

func caller(name string) fingerprint.Attributes {
	return fingerprint.Attributes{
		RemoteAddr: "10.0.0.1:5000",
		Header:     map[string][]string{"X-Caller": {name}},
	}
}

func fixedPolicy(max int, window time.Duration) Policy {
	return Policy{
		Name:        "fixed",
		KeyPrefix:   "fixed",
		Window:      window,
		MaxAttempts: max,
		Algorithm:   AlgorithmFixedWindow,
	}
}

func slidingPolicy(max int, window time.Duration) Policy {
	return Policy{
		Name:        "sliding",
		KeyPrefix:   "sliding",
		Window:      window,
		MaxAttempts: max,
		Algorithm:   AlgorithmSlidingWindow,
	}
}

type testEnv struct {
	engine *Engine
	clock  *clock.VirtualClock
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	ms := store.NewMemoryStore(&store.MemoryConfig{Clock: vc, CleanupInterval: time.Hour})
	t.Cleanup(func() { _ = ms.Close() })

	all := append([]Option{WithClock(vc), WithFingerprinter(staticFingerprint)}, opts...)
	return testEnv{
		engine: NewEngine(ms, all...),
		clock:  vc,
		store:  ms,
	}
}

// errStore fails every call with err.
type errStore struct{ err error }

func (s errStore) Get(context.Context, string) (string, bool, error) { return "", false, s.err }
func (s errStore) Set(context.Context, string, string, time.Duration) error {
	return s.err
}
func (s errStore) IncrExpire(context.Context, string, time.Duration) (int64, error) {
	return 0, s.err
}
func (s errStore) ZAddExpire(context.Context, string, int64, string, time.Duration) error {
	return s.err
}
func (s errStore) ZRemRangeByScore(context.Context, string, int64, int64) (int64, error) {
	return 0, s.err
}
func (s errStore) ZCount(context.Context, string, int64, int64) (int64, error) { return 0, s.err }
func (s errStore) ZOldest(context.Context, string) (int64, bool, error)      { return 0, false, s.err }
func (s errStore) Ping(context.Context) error                                { return s.err }
func (s errStore) Close() error                                              { return nil }

func newErrEngine(err error, logger *zap.Logger, opts ...Option) *Engine {
	all := append([]Option{
		WithClock(clock.NewVirtualClock(epoch)),
		WithFingerprinter(staticFingerprint),
		WithLogger(logger),
	}, opts...)
	return NewEngine(errStore{err: err}, all...)
}

// assertDecisions compares every gatekeep_ratelimit_decisions_total series
// in reg against series, given in text exposition format with labels sorted.
func assertDecisions(t *testing.T, reg prometheus.Gatherer, series string) {
	t.Helper()
	assertCounter(t, reg, "gatekeep_ratelimit_decisions_total",
		"Rate limit decisions by policy, algorithm and outcome.", series)
}

func assertRecordFailures(t *testing.T, reg prometheus.Gatherer, series string) {
	t.Helper()
	assertCounter(t, reg, "gatekeep_ratelimit_record_failures_total",
		"Successful operations whose attempt could not be written to the store.", series)
}

func assertCounter(t *testing.T, reg prometheus.Gatherer, name, help, series string) {
	t.Helper()
	expected := fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s\n", name, help, name, strings.TrimSpace(series))
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), name); err != nil {
		t.Fatalf("%s mismatch:\n%v", name, err)
	}
}
