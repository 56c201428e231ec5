package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// DenyBody is the JSON body of a 429 response.
type DenyBody struct {
	Error             string    `json:"error"`
	RetryAfterSeconds int64     `json:"retry_after_seconds"`
	NextAllowedAt     time.Time `json:"next_allowed_at"`
	MaxAttempts       int       `json:"max_attempts"`
}

func denyBody(d limiter.Decision) DenyBody {
	return DenyBody{
		Error:             d.Message,
		RetryAfterSeconds: d.RetryAfterSeconds,
		NextAllowedAt:     d.RetryAt,
		MaxAttempts:       d.Limit,
	}
}

// Event describes one intercepted request.
type Event struct {
	Request  *http.Request
	Policy   limiter.Policy
	Decision limiter.Decision
	Status   int
	Recorded bool
}

type interceptConfig struct {
	observe   func(Event)
	succeeded func(status int) bool
}

// InterceptOption configures Middleware and GinMiddleware.
type InterceptOption func(*interceptConfig)

// WithObserver calls fn after every intercepted request.
func WithObserver(fn func(Event)) InterceptOption {
	return func(c *interceptConfig) { c.observe = fn }
}

// WithSuccess decides from the response status whether the protected
// operation succeeded and should be recorded. The default is status < 400.
func WithSuccess(fn func(status int) bool) InterceptOption {
	return func(c *interceptConfig) { c.succeeded = fn }
}

func newInterceptConfig(opts []InterceptOption) interceptConfig {
	c := interceptConfig{
		observe:   func(Event) {},
		succeeded: func(status int) bool { return status < http.StatusBadRequest },
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// SetHeaders writes the rate limit headers derived from d. On admit the
// remaining count accounts for the current attempt.
func SetHeaders(h http.Header, d limiter.Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	if d.Allowed {
		h.Set(HeaderRemaining, strconv.Itoa(max(d.Remaining-1, 0)))
		h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
		return
	}
	h.Set(HeaderRemaining, "0")
	h.Set(HeaderReset, strconv.FormatInt(d.RetryAt.Unix(), 10))
	h.Set(HeaderRetryAfter, strconv.FormatInt(d.RetryAfterSeconds, 10))
}

// Middleware guards next with policy p. Denied requests get a 429 and never
// reach next; admitted requests are recorded when next succeeds.
func Middleware(engine *limiter.Engine, p limiter.Policy, next http.Handler, opts ...InterceptOption) http.Handler {
	cfg := newInterceptConfig(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := fingerprint.FromRequest(r)
		d := engine.Check(r.Context(), p, attrs)
		SetHeaders(w.Header(), d)

		if !d.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(denyBody(d))
			cfg.observe(Event{Request: r, Policy: p, Decision: d, Status: http.StatusTooManyRequests})
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		recorded := cfg.succeeded(sw.status)
		if recorded {
			engine.Record(r.Context(), p, attrs)
		}
		cfg.observe(Event{Request: r, Policy: p, Decision: d, Status: sw.status, Recorded: recorded})
	})
}

// GinMiddleware is Middleware for gin routes.
func GinMiddleware(engine *limiter.Engine, p limiter.Policy, opts ...InterceptOption) gin.HandlerFunc {
	cfg := newInterceptConfig(opts)
	return func(c *gin.Context) {
		attrs := fingerprint.FromRequest(c.Request)
		d := engine.Check(c.Request.Context(), p, attrs)
		SetHeaders(c.Writer.Header(), d)

		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, denyBody(d))
			cfg.observe(Event{Request: c.Request, Policy: p, Decision: d, Status: http.StatusTooManyRequests})
			return
		}

		c.Next()

		status := c.Writer.Status()
		recorded := cfg.succeeded(status)
		if recorded {
			engine.Record(c.Request.Context(), p, attrs)
		}
		cfg.observe(Event{Request: c.Request, Policy: p, Decision: d, Status: status, Recorded: recorded})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
