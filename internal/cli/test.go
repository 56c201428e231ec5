package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/config"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/replay"
)

// scenarioUserAgent is sent by every simulated caller.
const scenarioUserAgent = "gatekeep-test"

// policyFlags select a configured policy and optionally override its
// algorithm, max attempts or window.
type policyFlags struct {
	policyName  string
	algorithm   string
	maxAttempts int
	window      time.Duration
}

func (f *policyFlags) addFlags(cmd *cobra.Command, policyUsage string) {
	cmd.Flags().StringVar(&f.policyName, "policy", "", policyUsage)
	cmd.Flags().StringVar(&f.algorithm, "algorithm", string(limiter.AlgorithmFixedWindow), "algorithm (fixed_window, sliding_window)")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 5, "attempts allowed per window")
	cmd.Flags().DurationVar(&f.window, "window", time.Minute, "window length (whole seconds)")
}

type scenarioOptions struct {
	policyFlags
	attempts    int
	callers     []string
	fastForward time.Duration
	batches     int
	concurrent  bool
	outputJSON  bool
}

func newTestCmd(root *rootOptions) *cobra.Command {
	opts := scenarioOptions{}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run attempt scenarios against a policy with time travel",
		Long: `Runs attempts against a policy on a virtual clock and a private memory
store, so a 24 hour window can be exercised in milliseconds.

Each batch sends --attempts attempts per caller. Between batches the clock
is fast-forwarded, showing when denied callers are admitted again.`,
		Example: `  gatekeep test --policy login --attempts 7
  gatekeep test --policy password-reset --attempts 2 --fast-forward 24h
  gatekeep test --algorithm sliding --max-attempts 3 --window 1m --fast-forward 30s --batches 3
  gatekeep test --callers 10.0.0.1,10.0.0.2 --concurrent --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			p, err := opts.resolve(cmd, cfg)
			if err != nil {
				return err
			}
			if opts.attempts <= 0 {
				return fmt.Errorf("--attempts must be positive, got %d", opts.attempts)
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			shutdownTracing, err := setupTracing(root.traceStdout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			sb := replay.NewSandbox(time.Now().Truncate(time.Second),
				limiter.WithLogger(logger),
				limiter.WithFingerprinter(newFingerprinter(cfg.Fingerprint)),
			)
			defer sb.Close()

			result := runScenario(cmd.Context(), sb, p, opts)

			if opts.outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printScenario(cmd.OutOrStdout(), &result)
			logger.Debug("scenario finished", zap.String("policy", p.Name), zap.Int("batches", len(result.Batches)))
			return nil
		},
	}

	opts.addFlags(cmd, "configured policy to test (default: an ad-hoc policy from the flags below)")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 10, "attempts per caller per batch")
	cmd.Flags().StringSliceVar(&opts.callers, "callers", []string{"203.0.113.10"}, "caller addresses (comma-separated)")
	cmd.Flags().DurationVar(&opts.fastForward, "fast-forward", 0, "virtual time to skip between batches")
	cmd.Flags().IntVar(&opts.batches, "batches", 0, "number of batches (default 2 with --fast-forward, else 1)")
	cmd.Flags().BoolVar(&opts.concurrent, "concurrent", false, "run callers concurrently within a batch")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "output results as JSON")

	return cmd
}

// resolve starts from the named configured policy, or an ad-hoc one, and
// applies any explicitly set algorithm, max-attempts or window flags.
func (o *policyFlags) resolve(cmd *cobra.Command, cfg config.Config) (limiter.Policy, error) {
	var p limiter.Policy
	if o.policyName != "" {
		set, err := cfg.PolicySet()
		if err != nil {
			return p, err
		}
		if p, err = set.Lookup(o.policyName); err != nil {
			return p, fmt.Errorf("%w (configured: %s)", err, strings.Join(set.Names(), ", "))
		}
	} else {
		p = limiter.Policy{Name: "scenario", KeyPrefix: "scenario"}
	}

	if o.policyName == "" || cmd.Flags().Changed("algorithm") {
		algo, err := limiter.ParseAlgorithm(o.algorithm)
		if err != nil {
			return p, err
		}
		p.Algorithm = algo
	}
	if o.policyName == "" || cmd.Flags().Changed("max-attempts") {
		p.MaxAttempts = o.maxAttempts
	}
	if o.policyName == "" || cmd.Flags().Changed("window") {
		p.Window = o.window
	}
	return p, p.Validate()
}

func (o *scenarioOptions) batchCount() int {
	switch {
	case o.batches > 0:
		return o.batches
	case o.fastForward > 0:
		return 2
	default:
		return 1
	}
}

// ScenarioResult captures the full output of a scenario run.
type ScenarioResult struct {
	Policy      limiter.Policy         `json:"policy"`
	FastForward string                 `json:"fast_forward,omitempty"`
	Batches     []BatchResult          `json:"batches"`
	Summary     map[string]CallerTally `json:"summary"`
	// Callers preserves flag order for printing.
	Callers []string `json:"-"`
}

// BatchResult captures one batch of attempts.
type BatchResult struct {
	Label    string          `json:"label"`
	Time     time.Time       `json:"time"`
	Attempts []AttemptResult `json:"attempts"`
}

// AttemptResult is a single attempt and its decision.
type AttemptResult struct {
	Caller   string           `json:"caller"`
	Attempt  int              `json:"attempt"`
	Decision limiter.Decision `json:"decision"`
}

// CallerTally aggregates decisions per caller.
type CallerTally struct {
	Attempts int `json:"attempts"`
	Allowed  int `json:"allowed"`
	Denied   int `json:"denied"`
	FailOpen int `json:"fail_open"`
}

func scenarioAttributes(caller string) fingerprint.Attributes {
	h := make(http.Header)
	h.Set("User-Agent", scenarioUserAgent)
	return fingerprint.Attributes{RemoteAddr: caller, Header: h}
}

func runScenario(ctx context.Context, sb *replay.Sandbox, p limiter.Policy, opts scenarioOptions) ScenarioResult {
	callers := opts.callers
	if len(callers) == 0 {
		callers = []string{"203.0.113.10"}
	}

	result := ScenarioResult{
		Policy:  p,
		Summary: make(map[string]CallerTally, len(callers)),
		Callers: callers,
	}
	if opts.fastForward > 0 {
		result.FastForward = opts.fastForward.String()
	}

	for b := 0; b < opts.batchCount(); b++ {
		label := "Initial attempts"
		if b > 0 {
			sb.Clock.Advance(opts.fastForward)
			label = fmt.Sprintf("After fast-forward %s", opts.fastForward*time.Duration(b))
		}
		batch := BatchResult{Label: label, Time: sb.Clock.Now()}

		// Each caller owns one slot, so workers never share a slice.
		perCaller := make([][]AttemptResult, len(callers))
		workers := pool.New()
		if !opts.concurrent {
			workers = workers.WithMaxGoroutines(1)
		}
		for i, caller := range callers {
			workers.Go(func() {
				attrs := scenarioAttributes(caller)
				for n := 1; n <= opts.attempts; n++ {
					d, _ := sb.Engine.Guard(ctx, p, attrs, func(context.Context) error { return nil })
					perCaller[i] = append(perCaller[i], AttemptResult{Caller: caller, Attempt: n, Decision: d})
				}
			})
		}
		workers.Wait()

		for _, attempts := range perCaller {
			for _, a := range attempts {
				t := result.Summary[a.Caller]
				t.Attempts++
				switch {
				case a.Decision.FailOpen:
					t.Allowed++
					t.FailOpen++
				case a.Decision.Allowed:
					t.Allowed++
				default:
					t.Denied++
				}
				result.Summary[a.Caller] = t
			}
			batch.Attempts = append(batch.Attempts, attempts...)
		}
		result.Batches = append(result.Batches, batch)
	}

	return result
}

func printScenario(w io.Writer, r *ScenarioResult) {
	p := r.Policy
	fmt.Fprintln(w, "=== Gatekeep Scenario ===")
	fmt.Fprintf(w, "policy=%s algorithm=%s max_attempts=%d window=%s\n\n", p.Name, p.Algorithm, p.MaxAttempts, p.Window)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time.Format(time.RFC3339))
		for _, a := range batch.Attempts {
			d := a.Decision
			switch {
			case d.FailOpen:
				fmt.Fprintf(w, "  #%03d [ALLOW] caller=%s fail-open\n", a.Attempt, a.Caller)
			case d.Allowed:
				fmt.Fprintf(w, "  #%03d [ALLOW] caller=%s remaining=%d/%d\n", a.Attempt, a.Caller, d.Remaining, d.Limit)
			default:
				fmt.Fprintf(w, "  #%03d [DENY ] caller=%s retry_after=%ds next allowed %s\n",
					a.Attempt, a.Caller, d.RetryAfterSeconds,
					humanize.RelTime(d.RetryAt, batch.Time, "ago", "from now"))
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	for _, caller := range r.Callers {
		t := r.Summary[caller]
		fmt.Fprintf(w, "  %s: %d attempts, %d allowed, %d denied", caller, t.Attempts, t.Allowed, t.Denied)
		if t.FailOpen > 0 {
			fmt.Fprintf(w, ", %d fail-open", t.FailOpen)
		}
		fmt.Fprintln(w)
	}

	if r.FastForward != "" && len(r.Batches) > 1 && deniedThenAdmitted(r) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Denied callers were admitted again after")
		fmt.Fprintf(w, "fast-forwarding the clock by %s.\n", r.FastForward)
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}

func deniedThenAdmitted(r *ScenarioResult) bool {
	denied := false
	for i, batch := range r.Batches {
		for _, a := range batch.Attempts {
			if !a.Decision.Allowed {
				denied = true
			} else if denied && i > 0 {
				return true
			}
		}
	}
	return false
}
