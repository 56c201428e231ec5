// Package limiter is the embeddable attempt limiter: policies, the engine
// that checks and records attempts, and the decision it returns.
package limiter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	internallimiter "github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/metrics"
	"github.com/SmitUplenchwar2687/Gatekeep/pkg/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/pkg/store"
)

// Algorithm identifies a window algorithm.
type Algorithm = internallimiter.Algorithm

const (
	AlgorithmFixedWindow   = internallimiter.AlgorithmFixedWindow
	AlgorithmSlidingWindow = internallimiter.AlgorithmSlidingWindow
)

// DefaultMessage is the deny message for policies without one.
const DefaultMessage = internallimiter.DefaultMessage

var (
	ErrInvalidPolicy = internallimiter.ErrInvalidPolicy
	ErrUnknownPolicy = internallimiter.ErrUnknownPolicy
)

type (
	// Policy is a named limit for one protected operation.
	Policy = internallimiter.Policy
	// PolicySet is an immutable registry of policies by name.
	PolicySet = internallimiter.PolicySet
	// Decision is the result of a check.
	Decision = internallimiter.Decision
	// Engine runs checks and records against a store.
	Engine = internallimiter.Engine
	// Option configures an Engine.
	Option = internallimiter.Option
	// KeyBuilder derives storage keys from a policy and request attributes.
	KeyBuilder = internallimiter.KeyBuilder
)

type (
	// Attributes are the request properties a caller is identified by.
	Attributes = fingerprint.Attributes
	// Fingerprinter reduces attributes to a stable caller identity.
	Fingerprinter = fingerprint.Fingerprinter
	// FingerprinterFunc adapts a function to Fingerprinter.
	FingerprinterFunc = fingerprint.FingerprinterFunc
	// Metrics holds the limiter's Prometheus collectors.
	Metrics = metrics.Metrics
)

// NewEngine returns an Engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	return internallimiter.NewEngine(s, opts...)
}

// NewPolicySet validates policies and indexes them by name.
func NewPolicySet(policies ...Policy) (*PolicySet, error) {
	return internallimiter.NewPolicySet(policies...)
}

// ParseAlgorithm accepts the canonical names and their short forms.
func ParseAlgorithm(s string) (Algorithm, error) {
	return internallimiter.ParseAlgorithm(s)
}

// AttributesFromRequest captures the remote address and headers of r.
func AttributesFromRequest(r *http.Request) Attributes {
	return fingerprint.FromRequest(r)
}

// NewDefaultFingerprinter hashes the client IP with User-Agent and
// Accept-Language.
func NewDefaultFingerprinter(trustForwarded bool) Fingerprinter {
	return fingerprint.NewDefault(trustForwarded)
}

// NewMetrics registers the limiter collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.New(reg)
}

func WithClock(c clock.Clock) Option {
	return internallimiter.WithClock(c)
}

func WithFingerprinter(fp Fingerprinter) Option {
	return internallimiter.WithFingerprinter(fp)
}

func WithLogger(l *zap.Logger) Option {
	return internallimiter.WithLogger(l)
}

func WithMetrics(m *Metrics) Option {
	return internallimiter.WithMetrics(m)
}
