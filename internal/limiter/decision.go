package limiter

import "time"

// Decision is the result of a check. On deny, RetryAfterSeconds, RetryAt,
// Limit and Message tell the caller when to come back.
type Decision struct {
	Allowed bool `json:"allowed"`
	// FailOpen marks an admit caused by a store failure or a corrupted value
	// rather than by available quota.
	FailOpen  bool      `json:"fail_open,omitempty"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"` // attempts left before this one is recorded
	ResetAt   time.Time `json:"reset_at"`

	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	RetryAt           time.Time `json:"retry_at,omitempty"` // now + RetryAfterSeconds
	Message           string    `json:"message,omitempty"`
}

// outcome is what an algorithm learned from the store.
type outcome struct {
	count      int64 // attempts currently counted against the limit
	failOpen   bool
	reason     string
	err        error
	resetAt    time.Time
	retryAfter int64 // seconds; computed only when count >= limit
}

// Fail-open and fallback reasons, logged in the "reason" field.
const (
	reasonStoreError   = "store_error"
	reasonCorruptValue = "corrupt_value"
	reasonEmptyWindow  = "empty_window"
)

func assemble(p Policy, o outcome, now time.Time) Decision {
	d := Decision{
		Limit:   p.MaxAttempts,
		ResetAt: o.resetAt,
	}

	if o.failOpen {
		d.Allowed = true
		d.FailOpen = true
		d.Remaining = p.MaxAttempts
		return d
	}

	if o.count < int64(p.MaxAttempts) {
		d.Allowed = true
		d.Remaining = p.MaxAttempts - int(max(o.count, 0))
		return d
	}

	retry := max(o.retryAfter, 0)
	d.RetryAfterSeconds = retry
	d.RetryAt = now.Add(time.Duration(retry) * time.Second)
	d.Message = p.Message()
	return d
}
