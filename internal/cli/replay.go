package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/replay"
)

type replayOptions struct {
	policyFlags
	input       string
	speed       float64
	callers     []string
	endpoints   []string
	after       string
	before      string
	allPolicies bool
	outputJSON  bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded traffic through a policy",
		Long: `Replays traffic captured by "gatekeep server --record" through a policy
on a virtual clock and a private memory store.

Records are replayed in timestamp order. The virtual clock advances to
match the gaps between records, so windows behave exactly as they did
when the traffic was captured, at any speed you choose. Only admitted
attempts whose operation succeeded are recorded against the quota.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  gatekeep replay --input traffic.json --policy login
  gatekeep replay --input traffic.json --policy login --max-attempts 3
  gatekeep replay --input traffic.json --policy search --callers 10.0.0.7 --speed 100
  gatekeep replay --input traffic.json --after 2024-01-01T00:00:00Z --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.input == "" {
				return fmt.Errorf("--input is required")
			}
			records, err := recorder.LoadFile(opts.input)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("%s contains no records", opts.input)
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.policyName == "" {
				opts.policyName = records[0].Policy
			}
			p, err := opts.resolve(cmd, cfg)
			if err != nil {
				return err
			}
			filter, err := opts.filter(p)
			if err != nil {
				return err
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

			sb := replay.NewSandbox(earliest(records),
				limiter.WithLogger(logger),
				limiter.WithFingerprinter(newFingerprinter(cfg.Fingerprint)),
			)
			defer sb.Close()

			r := replay.New(sb.Engine, sb.Clock, p, opts.speed, filter)
			r.LoadRecords(records)

			out := cmd.OutOrStdout()
			if !opts.outputJSON {
				fmt.Fprintf(out, "Replaying %s through policy %s (%s, %d per %s) at %gx speed...\n\n",
					opts.input, p.Name, p.Algorithm, p.MaxAttempts, p.Window, opts.speed)
			}

			var events []recorder.DecisionEvent
			summary, err := r.Run(cmd.Context(), func(ev recorder.DecisionEvent) {
				if opts.outputJSON {
					events = append(events, ev)
					return
				}
				printReplayEvent(out, ev)
			})
			if err != nil {
				return err
			}

			if opts.outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Policy  limiter.Policy           `json:"policy"`
					Events  []recorder.DecisionEvent `json:"events"`
					Summary *replay.Summary          `json:"summary"`
				}{p, events, summary})
			}
			printReplaySummary(out, summary)
			return nil
		},
	}

	opts.addFlags(cmd, "configured policy to replay through (default: the policy of the first record)")
	cmd.Flags().StringVar(&opts.input, "input", "", "path to recorded traffic JSON file (required)")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&opts.callers, "callers", nil, "only replay these remote addresses (host or host:port)")
	cmd.Flags().StringSliceVar(&opts.endpoints, "endpoints", nil, "only replay endpoints containing one of these")
	cmd.Flags().StringVar(&opts.after, "after", "", "only replay records after this RFC3339 time")
	cmd.Flags().StringVar(&opts.before, "before", "", "only replay records before this RFC3339 time")
	cmd.Flags().BoolVar(&opts.allPolicies, "all-policies", false, "replay records captured under any policy, not just the selected one")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "output decisions and summary as JSON")

	return cmd
}

func (o *replayOptions) filter(p limiter.Policy) (replay.Filter, error) {
	f := replay.Filter{
		RemoteAddrs: o.callers,
		Endpoints:   o.endpoints,
	}
	if !o.allPolicies {
		f.Policies = []string{p.Name}
	}

	var err error
	if f.After, err = parseOptionalTime("--after", o.after); err != nil {
		return f, err
	}
	if f.Before, err = parseOptionalTime("--before", o.before); err != nil {
		return f, err
	}
	return f, nil
}

func parseOptionalTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value %q: %w", flag, v, err)
	}
	return t, nil
}

// earliest returns the first capture time, which the virtual clock starts at.
func earliest(records []recorder.TrafficRecord) time.Time {
	t := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(t) {
			t = r.Timestamp
		}
	}
	return t
}

func printReplayEvent(w io.Writer, ev recorder.DecisionEvent) {
	d := ev.Decision
	status := "ALLOW"
	detail := fmt.Sprintf("remaining=%d/%d", d.Remaining, d.Limit)
	switch {
	case d.FailOpen:
		detail = "fail-open"
	case !d.Allowed:
		status = "DENY "
		detail = fmt.Sprintf("retry_after=%ds", d.RetryAfterSeconds)
	}
	op := "ok"
	if !ev.Record.Succeeded {
		op = "failed"
	}
	fmt.Fprintf(w, "  [%s] %s caller=%s op=%s %s\n",
		status, ev.Record.Timestamp.Format("15:04:05"), ev.Record.RemoteAddr, op, detail)
}

func printReplaySummary(w io.Writer, s *replay.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Replay Summary ---")
	fmt.Fprintf(w, "  Total records:  %d\n", s.TotalRecords)
	fmt.Fprintf(w, "  Filtered:       %d\n", s.Filtered)
	fmt.Fprintf(w, "  Replayed:       %d\n", s.Replayed)
	fmt.Fprintf(w, "  Allowed:        %d\n", s.Allowed)
	fmt.Fprintf(w, "  Denied:         %d\n", s.Denied)
	fmt.Fprintf(w, "  Fail-open:      %d\n", s.FailOpen)
	fmt.Fprintf(w, "  Recorded:       %d\n", s.Recorded)
	fmt.Fprintf(w, "  Virtual time:   %s\n", s.Duration)
	fmt.Fprintf(w, "  Wall time:      %s\n", s.WallDuration.Round(time.Millisecond))

	if len(s.PerCaller) > 1 {
		fps := make([]string, 0, len(s.PerCaller))
		for fp := range s.PerCaller {
			fps = append(fps, fp)
		}
		sort.Strings(fps)

		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Per caller:")
		for _, fp := range fps {
			cs := s.PerCaller[fp]
			fmt.Fprintf(w, "    %s (%s): %d allowed, %d denied\n", cs.RemoteAddr, fp, cs.Allowed, cs.Denied)
		}
	}

	if s.Denied > 0 && s.Allowed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		denyRate := float64(s.Denied) / float64(s.Replayed) * 100
		fmt.Fprintf(w, "Deny rate: %.1f%% (%d/%d attempts denied)\n", denyRate, s.Denied, s.Replayed)
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
