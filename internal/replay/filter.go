package replay

import (
	"slices"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
)

// Filter defines criteria for selecting traffic records during replay.
type Filter struct {
	RemoteAddrs []string  // Only include these callers, host or host:port (empty = all)
	Policies    []string  // Only include records captured under these policies (empty = all)
	Endpoints   []string  // Only include endpoints containing one of these (empty = all)
	After       time.Time // Only include records after this time (zero = no limit)
	Before      time.Time // Only include records before this time (zero = no limit)
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r recorder.TrafficRecord) bool {
	if len(f.RemoteAddrs) > 0 && !matchAddr(f.RemoteAddrs, r.RemoteAddr) {
		return false
	}
	if len(f.Policies) > 0 && !slices.Contains(f.Policies, r.Policy) {
		return false
	}
	if len(f.Endpoints) > 0 && !matchEndpoint(f.Endpoints, r.Endpoint) {
		return false
	}
	if !f.After.IsZero() && !r.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// matchAddr accepts an exact match or a bare host matching host:port.
func matchAddr(addrs []string, remote string) bool {
	host := remote
	if i := strings.LastIndex(remote, ":"); i > 0 && !strings.HasSuffix(remote, "]") {
		host = strings.Trim(remote[:i], "[]")
	}
	for _, a := range addrs {
		if a == remote || a == host {
			return true
		}
	}
	return false
}

func matchEndpoint(patterns []string, endpoint string) bool {
	for _, p := range patterns {
		if p == endpoint || strings.Contains(endpoint, p) {
			return true
		}
	}
	return false
}
