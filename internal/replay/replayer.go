// Package replay feeds captured traffic through a policy on a virtual clock,
// so a policy can be tuned against real request patterns.
package replay

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
)

// Replayer replays recorded traffic through one policy at a configurable speed.
type Replayer struct {
	records []recorder.TrafficRecord
	engine  *limiter.Engine
	clock   *clock.VirtualClock
	policy  limiter.Policy
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int                      `json:"total_records"`
	Filtered     int                      `json:"filtered"`
	Replayed     int                      `json:"replayed"`
	Allowed      int                      `json:"allowed"`
	Denied       int                      `json:"denied"`
	FailOpen     int                      `json:"fail_open"`
	Recorded     int                      `json:"recorded"`
	Duration     time.Duration            `json:"duration"`      // virtual time span
	WallDuration time.Duration            `json:"wall_duration"` // actual wall clock time
	PerCaller    map[string]CallerSummary `json:"per_caller"`    // keyed by fingerprint
}

// CallerSummary has per-fingerprint stats.
type CallerSummary struct {
	RemoteAddr string `json:"remote_addr"`
	Allowed    int    `json:"allowed"`
	Denied     int    `json:"denied"`
	FailOpen   int    `json:"fail_open"`
}

// New creates a replayer. The engine must run on vc.
func New(engine *limiter.Engine, vc *clock.VirtualClock, policy limiter.Policy, speed float64, filter Filter) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		engine: engine,
		clock:  vc,
		policy: policy,
		speed:  speed,
		filter: filter,
	}
}

// Load reads traffic records from a JSON reader.
func (r *Replayer) Load(reader io.Reader) error {
	records, err := recorder.LoadJSON(reader)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []recorder.TrafficRecord) {
	r.records = make([]recorder.TrafficRecord, len(records))
	copy(r.records, records)
}

// Run replays all loaded records. Each record is checked against the policy;
// admitted records whose operation succeeded are recorded. cb, if non-nil,
// receives every decision.
func (r *Replayer) Run(ctx context.Context, cb func(recorder.DecisionEvent)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, fmt.Errorf("no records loaded")
	}

	sorted := make([]recorder.TrafficRecord, len(r.records))
	copy(sorted, r.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []recorder.TrafficRecord
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerCaller:    make(map[string]CallerSummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	baseTime := filtered[0].Timestamp
	if r.clock.Now().Before(baseTime) {
		r.clock.Set(baseTime)
	}

	for i, rec := range filtered {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if i > 0 {
			gap := rec.Timestamp.Sub(filtered[i-1].Timestamp)
			if gap > 0 {
				if r.speed > 0 {
					scaledGap := time.Duration(float64(gap) / r.speed)
					if scaledGap > time.Millisecond {
						select {
						case <-ctx.Done():
							return summary, ctx.Err()
						case <-time.After(scaledGap):
						}
					}
				}
				r.clock.Advance(gap)
			}
		}

		attrs := rec.Attributes()
		fp := r.engine.Keys().Fingerprint(attrs)
		d := r.engine.Check(ctx, r.policy, attrs)
		if d.Allowed && rec.Succeeded {
			r.engine.Record(ctx, r.policy, attrs)
			summary.Recorded++
		}

		summary.Replayed++
		cs := summary.PerCaller[fp]
		cs.RemoteAddr = rec.RemoteAddr
		switch {
		case d.FailOpen:
			summary.Allowed++
			summary.FailOpen++
			cs.Allowed++
			cs.FailOpen++
		case d.Allowed:
			summary.Allowed++
			cs.Allowed++
		default:
			summary.Denied++
			cs.Denied++
		}
		summary.PerCaller[fp] = cs

		if cb != nil {
			cb(recorder.DecisionEvent{
				Record:      rec,
				Fingerprint: fp,
				Decision:    d,
				Time:        r.clock.Now(),
			})
		}
	}

	summary.Duration = filtered[len(filtered)-1].Timestamp.Sub(baseTime)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}
