// Package fingerprint derives a stable, opaque caller identity from request
// attributes. The limiter keys every quota on this identity.
package fingerprint

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Attributes are the request properties a fingerprint may depend on.
// They are passed explicitly into every check and record call.
type Attributes struct {
	RemoteAddr string
	Header     http.Header
}

// FromRequest captures the attributes of an HTTP request.
func FromRequest(r *http.Request) Attributes {
	return Attributes{
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
	}
}

// HeaderValue returns the trimmed value of the named header and whether it
// was present with a non-empty value.
func (a Attributes) HeaderValue(name string) (string, bool) {
	if a.Header == nil {
		return "", false
	}
	v := strings.TrimSpace(a.Header.Get(name))
	return v, v != ""
}

// Fingerprinter produces a caller identity. Implementations must be
// deterministic: the same attributes always yield the same string.
type Fingerprinter interface {
	Fingerprint(a Attributes) string
}

// FingerprinterFunc adapts an ordinary function to the Fingerprinter interface.
type FingerprinterFunc func(a Attributes) string

func (f FingerprinterFunc) Fingerprint(a Attributes) string { return f(a) }

// DefaultHeaders are mixed into the default fingerprint alongside the client IP.
var DefaultHeaders = []string{"User-Agent", "Accept-Language"}

// HeaderFingerprinter hashes the client IP together with a fixed list of
// request headers.
type HeaderFingerprinter struct {
	// TrustForwarded makes the client IP come from X-Forwarded-For / X-Real-IP
	// when present. Enable only behind a proxy that sets these headers.
	TrustForwarded bool
	Headers        []string
}

// NewDefault returns a HeaderFingerprinter over DefaultHeaders.
func NewDefault(trustForwarded bool) *HeaderFingerprinter {
	return &HeaderFingerprinter{
		TrustForwarded: trustForwarded,
		Headers:        append([]string(nil), DefaultHeaders...),
	}
}

// Fingerprint returns a 16 hex digit xxhash64 digest of the client IP and the
// configured headers. Absent headers contribute an empty component so the
// digest stays positional.
func (f *HeaderFingerprinter) Fingerprint(a Attributes) string {
	d := xxhash.New()
	_, _ = d.WriteString(ClientIP(a, f.TrustForwarded))
	for _, name := range f.Headers {
		v, _ := a.HeaderValue(name)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(v)
	}
	return Hex(d.Sum64())
}

// ForwardedHeaders are consulted by ClientIP when forwarded headers are trusted.
var ForwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ClientIP extracts the caller address. With trustForwarded it prefers the
// first X-Forwarded-For hop, then X-Real-IP; otherwise it uses the host part
// of RemoteAddr.
func ClientIP(a Attributes, trustForwarded bool) string {
	if trustForwarded {
		if xff, ok := a.HeaderValue("X-Forwarded-For"); ok {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip, ok := a.HeaderValue("X-Real-IP"); ok {
			return ip
		}
	}

	addr := strings.TrimSpace(a.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

// HashString returns the hex xxhash64 digest of s.
func HashString(s string) string {
	return Hex(xxhash.Sum64String(s))
}

// Hex formats a 64-bit digest as a fixed-width lowercase hex string.
func Hex(sum uint64) string {
	s := strconv.FormatUint(sum, 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}
