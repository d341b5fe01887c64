package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ProviderKind is the closed set of destination providers with a dedicated policy
type ProviderKind string

const (
	ProviderKindGmail   ProviderKind = "gmail"
	ProviderKindOutlook ProviderKind = "outlook"
	ProviderKindHotmail ProviderKind = "hotmail"
	ProviderKindDefault ProviderKind = "default"
)

// ProviderKinds lists every kind in classification order
var ProviderKinds = []ProviderKind{
	ProviderKindGmail,
	ProviderKindOutlook,
	ProviderKindHotmail,
	ProviderKindDefault,
}

// IsValid checks if the kind is one of the known provider kinds
func (k ProviderKind) IsValid() bool {
	for _, kind := range ProviderKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ProviderPolicy holds the admission and retry settings for one provider
type ProviderPolicy struct {
	Kind ProviderKind `json:"kind"`

	// MaxConcurrent is reserved for parallel senders per provider, admissions stay serialized
	MaxConcurrent      int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	MinDelay           time.Duration `json:"min_delay" mapstructure:"min_delay"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	BurstLimit         int           `json:"burst_limit" mapstructure:"burst_limit"`
	MaxRetries         int           `json:"max_retries" mapstructure:"max_retries"`
	BackoffMultiplier  float64       `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Validate checks the policy values
func (p ProviderPolicy) Validate() error {
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, p.Kind)
	}
	if p.MaxConcurrent < 1 {
		return fmt.Errorf("%w: %s max_concurrent must be at least 1", ErrInvalidPolicy, p.Kind)
	}
	if p.MinDelay < 0 {
		return fmt.Errorf("%w: %s min_delay must not be negative", ErrInvalidPolicy, p.Kind)
	}
	if p.RateLimitPerMinute < 1 {
		return fmt.Errorf("%w: %s rate_limit_per_minute must be at least 1", ErrInvalidPolicy, p.Kind)
	}
	if p.BurstLimit < 1 {
		return fmt.Errorf("%w: %s burst_limit must be at least 1", ErrInvalidPolicy, p.Kind)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: %s max_retries must not be negative", ErrInvalidPolicy, p.Kind)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: %s backoff_multiplier must be at least 1", ErrInvalidPolicy, p.Kind)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: %s timeout must be positive", ErrInvalidPolicy, p.Kind)
	}
	return nil
}

// RetryDelay returns the delay before a message with the given retry count is re-queued:
// minDelay × backoffMultiplier^(retryCount-1)
func (p ProviderPolicy) RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	factor := math.Pow(p.BackoffMultiplier, float64(retryCount-1))
	return time.Duration(float64(p.MinDelay) * factor)
}

// PolicySet maps every provider kind to its policy
type PolicySet map[ProviderKind]ProviderPolicy

// DefaultPolicies returns the built-in policies
func DefaultPolicies() PolicySet {
	return PolicySet{
		ProviderKindGmail: {
			Kind:               ProviderKindGmail,
			MaxConcurrent:      1,
			MinDelay:           5 * time.Second,
			RateLimitPerMinute: 10,
			BurstLimit:         3,
			MaxRetries:         5,
			BackoffMultiplier:  2.5,
			Timeout:            45 * time.Second,
		},
		ProviderKindOutlook: {
			Kind:               ProviderKindOutlook,
			MaxConcurrent:      2,
			MinDelay:           3 * time.Second,
			RateLimitPerMinute: 15,
			BurstLimit:         5,
			MaxRetries:         3,
			BackoffMultiplier:  2.0,
			Timeout:            30 * time.Second,
		},
		ProviderKindHotmail: {
			Kind:               ProviderKindHotmail,
			MaxConcurrent:      2,
			MinDelay:           3 * time.Second,
			RateLimitPerMinute: 15,
			BurstLimit:         5,
			MaxRetries:         3,
			BackoffMultiplier:  2.0,
			Timeout:            30 * time.Second,
		},
		ProviderKindDefault: {
			Kind:               ProviderKindDefault,
			MaxConcurrent:      3,
			MinDelay:           2 * time.Second,
			RateLimitPerMinute: 20,
			BurstLimit:         8,
			MaxRetries:         3,
			BackoffMultiplier:  1.8,
			Timeout:            25 * time.Second,
		},
	}
}

// Validate requires a default policy and checks every entry
func (s PolicySet) Validate() error {
	if _, ok := s[ProviderKindDefault]; !ok {
		return ErrMissingDefaultPolicy
	}
	for kind, policy := range s {
		if policy.Kind != kind {
			return fmt.Errorf("%w: policy registered as %q declares kind %q", ErrInvalidPolicy, kind, policy.Kind)
		}
		if err := policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the policy for kind, falling back to the default policy
func (s PolicySet) Lookup(kind ProviderKind) ProviderPolicy {
	if policy, ok := s[kind]; ok {
		return policy
	}
	return s[ProviderKindDefault]
}

// Merge returns a copy of s with the given overrides applied
func (s PolicySet) Merge(overrides PolicySet) PolicySet {
	merged := make(PolicySet, len(s)+len(overrides))
	for kind, policy := range s {
		merged[kind] = policy
	}
	for kind, policy := range overrides {
		policy.Kind = kind
		merged[kind] = policy
	}
	return merged
}

// Provider is a resolved destination: the identity keying its limiter and the policy it follows
type Provider struct {
	Identity string         `json:"identity"`
	Policy   ProviderPolicy `json:"policy"`
}

// ClassifyHost maps a mail host to a provider kind by substring match. "live" must be a
// whole label, it is too common inside unrelated host names.
func ClassifyHost(host string) ProviderKind {
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))

	switch {
	case strings.Contains(h, "gmail"), strings.Contains(h, "google"):
		return ProviderKindGmail
	case strings.Contains(h, "outlook"), hasLabel(h, "live"):
		return ProviderKindOutlook
	case strings.Contains(h, "hotmail"):
		return ProviderKindHotmail
	default:
		return ProviderKindDefault
	}
}

// ProviderIdentity returns the limiter key for a host: the kind name for known
// providers, the normalized host otherwise
func ProviderIdentity(host string) string {
	kind := ClassifyHost(host)
	if kind != ProviderKindDefault {
		return string(kind)
	}
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if h == "" {
		return string(ProviderKindDefault)
	}
	return h
}

func hasLabel(host, label string) bool {
	for _, part := range strings.Split(host, ".") {
		if part == label {
			return true
		}
	}
	return false
}
