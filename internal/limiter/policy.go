package limiter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Algorithm identifies a windowing algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// DefaultMessage is returned on deny when a policy has no ErrorMessage.
const DefaultMessage = "Too many requests. Please try again later."

var (
	// ErrInvalidPolicy marks configuration errors. They are fatal at startup.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
	// ErrUnknownPolicy is returned by PolicySet.Lookup for names it does not hold.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)

// ParseAlgorithm accepts "fixed_window", "sliding_window" and the short forms
// "fixed" and "sliding", case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "fixed_window", "fixed-window":
		return AlgorithmFixedWindow, nil
	case "sliding", "sliding_window", "sliding-window":
		return AlgorithmSlidingWindow, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidPolicy, s)
	}
}

// Policy configures limiting for one protected operation.
type Policy struct {
	Name        string        `json:"name"`
	KeyPrefix   string        `json:"key_prefix"`
	Window      time.Duration `json:"window"`
	MaxAttempts int           `json:"max_attempts"`
	Algorithm   Algorithm     `json:"algorithm"`

	// IncludeHeaders adds hashed header values to the key. With an empty
	// HeaderNames the single DefaultHeader is used.
	IncludeHeaders bool     `json:"include_headers,omitempty"`
	HeaderNames    []string `json:"header_names,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Validate reports the first configuration problem, wrapped in ErrInvalidPolicy.
func (p Policy) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case strings.TrimSpace(p.KeyPrefix) == "":
		return fmt.Errorf("%w: policy %q: key prefix is required", ErrInvalidPolicy, p.Name)
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: policy %q: max attempts must be >= 1, got %d", ErrInvalidPolicy, p.Name, p.MaxAttempts)
	case p.Window < time.Second:
		return fmt.Errorf("%w: policy %q: window must be at least 1s, got %s", ErrInvalidPolicy, p.Name, p.Window)
	}

	switch p.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow:
	default:
		return fmt.Errorf("%w: policy %q: unknown algorithm %q", ErrInvalidPolicy, p.Name, p.Algorithm)
	}

	for _, h := range p.HeaderNames {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: policy %q: empty header name", ErrInvalidPolicy, p.Name)
		}
	}
	return nil
}

// Message returns the deny message for p.
func (p Policy) Message() string {
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	return DefaultMessage
}

// windowSeconds is the window in whole seconds. Validate guarantees >= 1.
func (p Policy) windowSeconds() int64 {
	s := int64(p.Window / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func (p Policy) clone() Policy {
	c := p
	if p.HeaderNames != nil {
		c.HeaderNames = append([]string(nil), p.HeaderNames...)
	}
	return c
}

// PolicySet is an immutable registry of policies keyed by name.
type PolicySet struct {
	byName map[string]Policy
	names  []string
}

// NewPolicySet validates every policy and rejects duplicate names.
func NewPolicySet(policies ...Policy) (*PolicySet, error) {
	s := &PolicySet{byName: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate policy name %q", ErrInvalidPolicy, p.Name)
		}
		s.byName[p.Name] = p.clone()
		s.names = append(s.names, p.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Lookup returns the named policy.
func (s *PolicySet) Lookup(name string) (Policy, error) {
	p, ok := s.byName[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p.clone(), nil
}

// Names returns the policy names in sorted order.
func (s *PolicySet) Names() []string {
	return append([]string(nil), s.names...)
}

// Policies returns every policy, sorted by name.
func (s *PolicySet) Policies() []Policy {
	out := make([]Policy, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.byName[n].clone())
	}
	return out
}

func (s *PolicySet) Len() int { return len(s.names) }
