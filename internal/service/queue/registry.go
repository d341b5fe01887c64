package queue

import (
	"fmt"
	"sync"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// RateLimiterRegistry resolves destination hosts to providers and owns one
// ProviderRateLimiter per provider identity
type RateLimiterRegistry struct {
	policies domain.PolicySet
	clock    TimeProvider
	logger   logger.Logger
	limiters sync.Map // map[identity]*ProviderRateLimiter
}

// NewRateLimiterRegistry validates the policies and creates an empty registry.
// This is the only place a configuration error can surface.
func NewRateLimiterRegistry(policies domain.PolicySet, clock TimeProvider, log logger.Logger) (*RateLimiterRegistry, error) {
	if policies == nil {
		policies = domain.DefaultPolicies()
	}
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter registry: %w", err)
	}
	if clock == nil {
		clock = NewRealTimeProvider()
	}

	// copy so later changes to the caller's map cannot leak in
	owned := make(domain.PolicySet, len(policies))
	for kind, policy := range policies {
		owned[kind] = policy
	}

	return &RateLimiterRegistry{
		policies: owned,
		clock:    clock,
		logger:   log,
	}, nil
}

// Resolve classifies a destination host into its provider identity and policy
func (r *RateLimiterRegistry) Resolve(host string) domain.Provider {
	return domain.Provider{
		Identity: domain.ProviderIdentity(host),
		Policy:   r.policies.Lookup(domain.ClassifyHost(host)),
	}
}

// PolicyFor returns the policy followed by a provider identity
func (r *RateLimiterRegistry) PolicyFor(identity string) domain.ProviderPolicy {
	return r.policies.Lookup(domain.ClassifyHost(identity))
}

// LimiterFor returns the limiter for a provider identity, creating it on first use
func (r *RateLimiterRegistry) LimiterFor(identity string) *ProviderRateLimiter {
	if existing, ok := r.limiters.Load(identity); ok {
		return existing.(*ProviderRateLimiter)
	}

	limiter := NewProviderRateLimiter(identity, r.PolicyFor(identity), r.clock, r.logger)
	actual, loaded := r.limiters.LoadOrStore(identity, limiter)
	if !loaded {
		r.logger.WithFields(map[string]interface{}{
			"provider":        identity,
			"kind":            limiter.policy.Kind,
			"rate_per_minute": limiter.policy.RateLimitPerMinute,
			"min_delay_ms":    limiter.policy.MinDelay.Milliseconds(),
		}).Debug("Created provider rate limiter")
	}
	return actual.(*ProviderRateLimiter)
}

// GetStats returns statistics about all rate limiters
func (r *RateLimiterRegistry) GetStats() map[string]RateLimiterStats {
	stats := make(map[string]RateLimiterStats)
	r.limiters.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*ProviderRateLimiter).Stats()
		return true
	})
	return stats
}

// Remove drops the limiter of one provider identity
func (r *RateLimiterRegistry) Remove(identity string) {
	r.limiters.Delete(identity)
}

// Clock returns the time provider shared by every limiter
func (r *RateLimiterRegistry) Clock() TimeProvider {
	return r.clock
}
