package limiter

import (
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
)

// DefaultHeader is keyed on when a policy includes headers but names none.
const DefaultHeader = "User-Agent"

const keySep = ":"

// KeyBuilder derives store keys of the form
//
//	prefix:fingerprint[:header:hash(value)]*[:windowStart]
//
// The window start suffix is only present for fixed window policies.
type KeyBuilder struct {
	fp    fingerprint.Fingerprinter
	clock clock.Clock
}

// NewKeyBuilder returns a KeyBuilder. Nil arguments fall back to the default
// fingerprinter and the real clock.
func NewKeyBuilder(fp fingerprint.Fingerprinter, c clock.Clock) *KeyBuilder {
	if fp == nil {
		fp = fingerprint.NewDefault(false)
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	return &KeyBuilder{fp: fp, clock: c}
}

// Build returns the key for the caller described by a under policy p at the
// current time.
func (b *KeyBuilder) Build(p Policy, a fingerprint.Attributes) string {
	return b.build(p, a, b.clock.Now())
}

// Fingerprint exposes the caller identity used in keys.
func (b *KeyBuilder) Fingerprint(a fingerprint.Attributes) string {
	return b.fp.Fingerprint(a)
}

func (b *KeyBuilder) build(p Policy, a fingerprint.Attributes, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(p.KeyPrefix)
	sb.WriteString(keySep)
	sb.WriteString(b.fp.Fingerprint(a))

	if p.IncludeHeaders {
		names := p.HeaderNames
		if len(names) == 0 {
			names = []string{DefaultHeader}
		}
		for _, name := range names {
			v, ok := a.HeaderValue(name)
			if !ok {
				continue
			}
			sb.WriteString(keySep)
			sb.WriteString(name)
			sb.WriteString(keySep)
			sb.WriteString(fingerprint.HashString(v))
		}
	}

	if p.Algorithm == AlgorithmFixedWindow {
		sb.WriteString(keySep)
		sb.WriteString(strconv.FormatInt(fixedWindowStart(now.Unix(), p.windowSeconds()), 10))
	}
	return sb.String()
}

// fixedWindowStart is floor(nowSec / windowSec) * windowSec.
func fixedWindowStart(nowSec, windowSec int64) int64 {
	q := nowSec / windowSec
	if nowSec%windowSec != 0 && nowSec < 0 {
		q--
	}
	return q * windowSec
}
