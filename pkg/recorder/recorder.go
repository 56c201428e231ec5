package recorder

import (
	"io"
	"net/http"
	"time"

	internalrecorder "github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
)

// TrafficRecord is one captured attempt at a protected operation.
type TrafficRecord = internalrecorder.TrafficRecord

// DecisionEvent pairs a traffic record with the produced decision.
type DecisionEvent = internalrecorder.DecisionEvent

// Recorder captures traffic records for later replay.
type Recorder = internalrecorder.Recorder

// New creates a new Recorder.
func New(w io.Writer) *Recorder {
	return internalrecorder.New(w)
}

// NewTrafficRecord captures r, keeping only the named headers.
func NewTrafficRecord(ts time.Time, policy string, r *http.Request, headers []string) TrafficRecord {
	return internalrecorder.NewTrafficRecord(ts, policy, r, headers)
}

// LoadJSON reads traffic records from a JSON array.
func LoadJSON(r io.Reader) ([]TrafficRecord, error) {
	return internalrecorder.LoadJSON(r)
}

// LoadFile reads traffic records from a JSON file.
func LoadFile(path string) ([]TrafficRecord, error) {
	return internalrecorder.LoadFile(path)
}
