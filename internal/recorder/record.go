package recorder

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
)

// TrafficRecord is one captured attempt at a protected operation.
type TrafficRecord struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Policy     string            `json:"policy"`
	Endpoint   string            `json:"endpoint,omitempty"` // e.g. "POST /api/attempt/login"
	RemoteAddr string            `json:"remote_addr"`
	Headers    map[string]string `json:"headers,omitempty"`
	// Succeeded reports whether the protected operation completed, which is
	// what decides whether the attempt was recorded against the quota.
	Succeeded bool `json:"succeeded"`
}

// NewTrafficRecord captures the attributes of r. Only the named headers are
// kept so captures do not carry cookies or credentials.
func NewTrafficRecord(ts time.Time, policy string, r *http.Request, headers []string) TrafficRecord {
	rec := TrafficRecord{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Policy:     policy,
		Endpoint:   r.Method + " " + r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	}
	for _, name := range headers {
		if v := r.Header.Get(name); v != "" {
			if rec.Headers == nil {
				rec.Headers = make(map[string]string, len(headers))
			}
			rec.Headers[http.CanonicalHeaderKey(name)] = v
		}
	}
	return rec
}

// Attributes rebuilds the request attributes the limiter keys on.
func (r TrafficRecord) Attributes() fingerprint.Attributes {
	h := make(http.Header, len(r.Headers))
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	return fingerprint.Attributes{RemoteAddr: r.RemoteAddr, Header: h}
}

// DecisionEvent pairs a traffic record with the decision it produced.
// Streamed to WebSocket clients and emitted by replays.
type DecisionEvent struct {
	Record      TrafficRecord    `json:"record"`
	Fingerprint string           `json:"fingerprint"`
	Decision    limiter.Decision `json:"decision"`
	Time        time.Time        `json:"time"`
}
