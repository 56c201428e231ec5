package replay

import (
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// Sandbox is an engine over a private memory store driven by a virtual
// clock. Nothing it does touches a shared store.
type Sandbox struct {
	Engine *limiter.Engine
	Clock  *clock.VirtualClock
	Store  *store.MemoryStore
}

// NewSandbox starts the virtual clock at start. WithClock in opts is
// overridden.
func NewSandbox(start time.Time, opts ...limiter.Option) *Sandbox {
	vc := clock.NewVirtualClock(start)
	ms := store.NewMemoryStore(&store.MemoryConfig{Clock: vc, CleanupInterval: time.Hour})
	all := append(append([]limiter.Option(nil), opts...), limiter.WithClock(vc))
	return &Sandbox{
		Engine: limiter.NewEngine(ms, all...),
		Clock:  vc,
		Store:  ms,
	}
}

func (s *Sandbox) Close() error {
	return s.Store.Close()
}
