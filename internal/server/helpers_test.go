package server

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/metrics"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func testPolicies(t *testing.T) *limiter.PolicySet {
	t.Helper()
	set, err := limiter.NewPolicySet(
		limiter.Policy{
			Name:        "login",
			KeyPrefix:   "login",
			Window:      24 * time.Hour,
			MaxAttempts: 2,
			Algorithm:   limiter.AlgorithmFixedWindow,
		},
		limiter.Policy{
			Name:         "search",
			KeyPrefix:    "search",
			Window:       time.Minute,
			MaxAttempts:  1,
			Algorithm:    limiter.AlgorithmSlidingWindow,
			ErrorMessage: "search quota used",
		},
	)
	require.NoError(t, err)
	return set
}

type testServer struct {
	srv      *Server
	engine   *limiter.Engine
	clock    *clock.VirtualClock
	store    *store.MemoryStore
	registry *prometheus.Registry
	recorder *recorder.Recorder
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	vc := clock.NewVirtualClock(epoch.Add(6 * time.Hour))
	ms := store.NewMemoryStore(&store.MemoryConfig{Clock: vc})
	t.Cleanup(func() { _ = ms.Close() })

	reg := prometheus.NewRegistry()
	logger := zaptest.NewLogger(t)
	engine := limiter.NewEngine(ms,
		limiter.WithClock(vc),
		limiter.WithLogger(logger),
		limiter.WithMetrics(metrics.New(reg)),
	)
	rec := recorder.New(nil)

	srv := New(Options{
		Engine:        engine,
		Policies:      testPolicies(t),
		Logger:        logger,
		Gatherer:      reg,
		Recorder:      rec,
		RecordHeaders: []string{"User-Agent"},
	})
	return testServer{srv: srv, engine: engine, clock: vc, store: ms, registry: reg, recorder: rec}
}
