// Package recorder captures attempts at protected operations so they can be
// replayed later against a different policy. The server captures one entry
// for every guarded attempt at a known policy, admitted or denied. Read-only
// checks and requests for unknown policies are not captured.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Recorder holds captured attempts in arrival order until they are exported
// for "gatekeep replay". Safe for concurrent use by request handlers.
type Recorder struct {
	mu      sync.Mutex
	records []TrafficRecord
	writer  io.Writer // optional: stream records as they arrive
}

// New creates an empty Recorder. If w is non-nil each attempt is also
// streamed to w as one JSON line, so a crash loses nothing already seen.
func New(w io.Writer) *Recorder {
	return &Recorder{
		writer: w,
	}
}

// Record appends one attempt. The record is kept even when streaming it to
// the writer fails.
func (r *Recorder) Record(rec TrafficRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(rec); err != nil {
			return fmt.Errorf("streaming record: %w", err)
		}
	}
	return nil
}

// Records returns a copy of the captured attempts.
func (r *Recorder) Records() []TrafficRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TrafficRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ExportJSON writes every captured attempt to w as an indented JSON array,
// the format LoadJSON and the replay command read. An empty capture is
// written as [] rather than null.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.records
	if records == nil {
		records = []TrafficRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportFile writes the capture to path. The server calls it on shutdown
// when started with --record.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating capture file: %w", err)
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing capture file: %w", err)
	}
	return f.Close()
}

// LoadJSON reads a capture written by ExportJSON.
func LoadJSON(r io.Reader) ([]TrafficRecord, error) {
	var records []TrafficRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding traffic records: %w", err)
	}
	return records, nil
}

// LoadFile reads traffic records from a JSON file written by ExportFile.
func LoadFile(path string) ([]TrafficRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadJSON(f)
}
