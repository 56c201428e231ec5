// Package limiter decides whether a caller may perform a protected operation
// under a fixed or sliding window policy. All counters live in a shared
// store; the limiter itself holds no per-caller state and takes no locks.
package limiter

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/metrics"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

const tracerName = "github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"

type algorithm interface {
	check(ctx context.Context, key string, p Policy, now time.Time) outcome
	record(ctx context.Context, key string, p Policy, now time.Time) error
}

// Engine runs checks and records against a store.
type Engine struct {
	store   store.Store
	clock   clock.Clock
	fp      fingerprint.Fingerprinter
	keys    *KeyBuilder
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	fixed   fixedWindow
	sliding slidingWindow
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Replays and tests pass a VirtualClock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFingerprinter sets the caller identity function.
func WithFingerprinter(fp fingerprint.Fingerprinter) Option {
	return func(e *Engine) { e.fp = fp }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an Engine over s. Without options it uses the real clock,
// the default fingerprinter, a no-op logger and no metrics.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{store: s}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.NewRealClock()
	}
	if e.fp == nil {
		e.fp = fingerprint.NewDefault(false)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.keys = NewKeyBuilder(e.fp, e.clock)
	e.tracer = otel.Tracer(tracerName)

	instrumented := instrument(s, e.metrics)
	seq := new(atomic.Uint64)
	seq.Store(rand.Uint64())
	e.fixed = fixedWindow{store: instrumented}
	e.sliding = slidingWindow{store: instrumented, seq: seq}
	return e
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clock }

// Keys returns the key builder the engine uses.
func (e *Engine) Keys() *KeyBuilder { return e.keys }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) algorithmFor(p Policy) algorithm {
	if p.Algorithm == AlgorithmSlidingWindow {
		return e.sliding
	}
	return e.fixed
}

// Check decides whether the caller may proceed. It never returns a store
// error: store failures and corrupted values admit with FailOpen set.
func (e *Engine) Check(ctx context.Context, p Policy, a fingerprint.Attributes) Decision {
	ctx, span := e.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("ratelimit.policy", p.Name),
		attribute.String("ratelimit.algorithm", string(p.Algorithm)),
	))
	defer span.End()

	now := e.clock.Now()
	key := e.keys.build(p, a, now)
	o := e.algorithmFor(p).check(ctx, key, p, now)
	d := assemble(p, o, now)

	result := metrics.OutcomeAdmit
	switch {
	case d.FailOpen:
		result = metrics.OutcomeFailOpen
		e.logger.Warn("rate limit check failed open",
			zap.String("policy", p.Name),
			zap.String("algorithm", string(p.Algorithm)),
			zap.String("key", key),
			zap.String("reason", o.reason),
			zap.Error(o.err),
		)
		span.RecordError(o.err)
		span.SetStatus(codes.Error, o.reason)
	case !d.Allowed:
		result = metrics.OutcomeDeny
		if o.reason != "" {
			e.logger.Warn("retry-after fell back to full window",
				zap.String("policy", p.Name),
				zap.String("key", key),
				zap.String("reason", o.reason),
				zap.Error(o.err),
			)
		}
		e.logger.Debug("rate limit exceeded",
			zap.String("policy", p.Name),
			zap.String("key", key),
			zap.Int64("retry_after_seconds", d.RetryAfterSeconds),
		)
	}
	e.metrics.ObserveDecision(p.Name, string(p.Algorithm), result)

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", d.Allowed),
		attribute.Bool("ratelimit.fail_open", d.FailOpen),
		attribute.Int("ratelimit.remaining", d.Remaining),
	)
	return d
}

// Record writes one attempt for the caller. Call it only after the protected
// operation succeeded. A store failure is logged and counted as a lost
// attempt; it is not returned.
func (e *Engine) Record(ctx context.Context, p Policy, a fingerprint.Attributes) {
	ctx, span := e.tracer.Start(ctx, "ratelimit.record", trace.WithAttributes(
		attribute.String("ratelimit.policy", p.Name),
		attribute.String("ratelimit.algorithm", string(p.Algorithm)),
	))
	defer span.End()

	now := e.clock.Now()
	key := e.keys.build(p, a, now)
	if err := e.algorithmFor(p).record(ctx, key, p, now); err != nil {
		e.logger.Error("rate limit attempt not recorded",
			zap.String("policy", p.Name),
			zap.String("algorithm", string(p.Algorithm)),
			zap.String("key", key),
			zap.Error(err),
		)
		e.metrics.RecordFailure(p.Name, string(p.Algorithm))
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
	}
}

// Guard checks, runs fn when admitted, and records when fn returns nil.
// A deny is reported through the Decision, not the error; fn is not called.
func (e *Engine) Guard(ctx context.Context, p Policy, a fingerprint.Attributes, fn func(context.Context) error) (Decision, error) {
	d := e.Check(ctx, p, a)
	if !d.Allowed {
		return d, nil
	}
	if err := fn(ctx); err != nil {
		return d, err
	}
	e.Record(ctx, p, a)
	return d, nil
}
