package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/replay"
)

// writeReplayFixture captures seven login attempts from one caller a second
// apart plus one search attempt from another caller.
func writeReplayFixture(t *testing.T) string {
	t.Helper()

	var records []recorder.TrafficRecord
	for i := 0; i < 7; i++ {
		records = append(records, recorder.TrafficRecord{
			ID:         "login-" + string(rune('a'+i)),
			Timestamp:  epoch.Add(time.Duration(i) * time.Second),
			Policy:     "login",
			Endpoint:   "POST /api/attempt/login",
			RemoteAddr: "10.0.0.1:5000",
			Headers:    map[string]string{"User-Agent": "curl/8.0"},
			Succeeded:  true,
		})
	}
	records = append(records, recorder.TrafficRecord{
		ID:         "search-a",
		Timestamp:  epoch.Add(3 * time.Second),
		Policy:     "search",
		Endpoint:   "POST /api/attempt/search",
		RemoteAddr: "10.0.0.2:5000",
		Succeeded:  true,
	})

	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "traffic.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

type replayOutput struct {
	Events  []recorder.DecisionEvent `json:"events"`
	Summary replay.Summary           `json:"summary"`
}

func runReplay(t *testing.T, args ...string) (replayOutput, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"replay"}, args...))
	if err := cmd.Execute(); err != nil {
		return replayOutput{}, err
	}
	var res replayOutput
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out.String())
	}
	return res, nil
}

func TestReplayCmd_DefaultPolicyFromRecords(t *testing.T) {
	path := writeReplayFixture(t)

	res, err := runReplay(t, "--input", path, "--json")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	s := res.Summary
	if s.TotalRecords != 8 || s.Filtered != 7 {
		t.Errorf("total/filtered = %d/%d, want 8/7", s.TotalRecords, s.Filtered)
	}
	// login allows 5 per 15 minutes.
	if s.Allowed != 5 || s.Denied != 2 || s.Recorded != 5 {
		t.Errorf("summary = %+v, want 5 allowed, 2 denied, 5 recorded", s)
	}
	if len(res.Events) != 7 {
		t.Errorf("events = %d, want 7", len(res.Events))
	}
}

func TestReplayCmd_OverrideMaxAttempts(t *testing.T) {
	path := writeReplayFixture(t)

	res, err := runReplay(t, "--input", path, "--policy", "login", "--max-attempts", "3", "--json")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if res.Summary.Allowed != 3 || res.Summary.Denied != 4 {
		t.Errorf("summary = %+v, want 3 allowed, 4 denied", res.Summary)
	}
}

func TestReplayCmd_Filters(t *testing.T) {
	path := writeReplayFixture(t)

	res, err := runReplay(t, "--input", path, "--policy", "login", "--all-policies",
		"--callers", "10.0.0.2", "--json")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if res.Summary.Replayed != 1 {
		t.Errorf("replayed = %d, want 1", res.Summary.Replayed)
	}

	after := epoch.Add(4 * time.Second).Format(time.RFC3339)
	res, err = runReplay(t, "--input", path, "--after", after, "--json")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if res.Summary.Replayed != 2 {
		t.Errorf("replayed after %s = %d, want 2", after, res.Summary.Replayed)
	}
}

func TestReplayCmd_Text(t *testing.T) {
	path := writeReplayFixture(t)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--input", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"through policy login", "[DENY ]", "Replay Summary", "Deny rate: 28.6%"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReplayCmd_Errors(t *testing.T) {
	path := writeReplayFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", nil, "--input is required"},
		{"missing file", []string{"--input", filepath.Join(t.TempDir(), "none.json")}, "none.json"},
		{"unknown policy", []string{"--input", path, "--policy", "checkout"}, "checkout"},
		{"bad after", []string{"--input", path, "--after", "yesterday"}, "--after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runReplay(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestEarliest(t *testing.T) {
	records := []recorder.TrafficRecord{
		{Timestamp: epoch.Add(time.Minute)},
		{Timestamp: epoch},
		{Timestamp: epoch.Add(time.Second)},
	}
	if got := earliest(records); !got.Equal(epoch) {
		t.Errorf("earliest() = %v, want %v", got, epoch)
	}
}
