package replay

import (
	"time"

	internalreplay "github.com/SmitUplenchwar2687/Gatekeep/internal/replay"
	"github.com/SmitUplenchwar2687/Gatekeep/pkg/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/pkg/limiter"
)

// Filter selects traffic records during replay.
type Filter = internalreplay.Filter

// Replayer replays recorded traffic through one policy.
type Replayer = internalreplay.Replayer

// Summary aggregates replay statistics.
type Summary = internalreplay.Summary

// CallerSummary has per-fingerprint stats.
type CallerSummary = internalreplay.CallerSummary

// Sandbox is an engine over a private memory store on a virtual clock.
type Sandbox = internalreplay.Sandbox

// New creates a replayer. The engine must run on vc.
func New(engine *limiter.Engine, vc *clock.VirtualClock, policy limiter.Policy, speed float64, filter Filter) *Replayer {
	return internalreplay.New(engine, vc, policy, speed, filter)
}

// NewSandbox starts a sandbox whose virtual clock reads start.
func NewSandbox(start time.Time, opts ...limiter.Option) *Sandbox {
	return internalreplay.NewSandbox(start, opts...)
}
