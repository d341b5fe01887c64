package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/tracing"
)

const (
	// admissionWindow is the sliding window rateLimitPerMinute applies to
	admissionWindow = 60 * time.Second

	// burstWindow is how often the burst counter resets on its own
	burstWindow = 60 * time.Second

	// windowSafetyMargin is added to waits for a slot in a full window
	windowSafetyMargin = time.Second
)

// ProviderRateLimiter gates send attempts for one provider identity.
// Admissions are serialized: one caller at a time runs the admission check,
// so no two admissions are ever closer than the policy's MinDelay.
type ProviderRateLimiter struct {
	identity string
	policy   domain.ProviderPolicy
	clock    TimeProvider
	logger   logger.Logger

	// admit is held for the whole admission check, waits included
	admit *semaphore.Weighted

	mu               sync.Mutex
	recentAdmissions []time.Time
	burstCount       int
	burstWindowStart time.Time
	lastAdmission    time.Time
	totalAdmissions  int64
	totalWait        time.Duration
	windowWaits      int64
	burstCooldowns   int64
}

// NewProviderRateLimiter creates a limiter for one provider identity
func NewProviderRateLimiter(identity string, policy domain.ProviderPolicy, clock TimeProvider, log logger.Logger) *ProviderRateLimiter {
	return &ProviderRateLimiter{
		identity:         identity,
		policy:           policy,
		clock:            clock,
		logger:           log.WithField("provider", identity),
		admit:            semaphore.NewWeighted(1),
		burstWindowStart: clock.Now(),
	}
}

// Identity returns the provider identity this limiter serves
func (l *ProviderRateLimiter) Identity() string {
	return l.identity
}

// Policy returns the policy this limiter enforces
func (l *ProviderRateLimiter) Policy() domain.ProviderPolicy {
	return l.policy
}

// AwaitAdmission blocks until a send attempt may start, records it and returns
// the admission time. It only fails when ctx is done while waiting.
func (l *ProviderRateLimiter) AwaitAdmission(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if err := l.admit.Acquire(ctx, 1); err != nil {
		return time.Time{}, err
	}
	defer l.admit.Release(1)

	started := l.clock.Now()

	// wait for a free slot in the trailing window; every pass sleeps until the
	// oldest admission leaves it, so the loop ends once enough time has passed
	for {
		now := l.clock.Now()

		l.mu.Lock()
		if now.Sub(l.burstWindowStart) > burstWindow {
			l.burstCount = 0
			l.burstWindowStart = now
		}
		l.pruneLocked(now)
		full := len(l.recentAdmissions) >= l.policy.RateLimitPerMinute
		var wait time.Duration
		if full {
			oldest := l.recentAdmissions[0]
			wait = admissionWindow - now.Sub(oldest) + windowSafetyMargin
			l.windowWaits++
		}
		l.mu.Unlock()

		if !full {
			break
		}

		l.logger.WithFields(map[string]interface{}{
			"wait_ms":    wait.Milliseconds(),
			"rate_limit": l.policy.RateLimitPerMinute,
		}).Info("Rate limit window full, waiting")

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return time.Time{}, err
		}
	}

	l.mu.Lock()
	burstFull := l.burstCount >= l.policy.BurstLimit
	if burstFull {
		l.burstCooldowns++
	}
	l.mu.Unlock()

	if burstFull {
		cooldown := 2 * l.policy.MinDelay
		l.logger.WithFields(map[string]interface{}{
			"wait_ms":     cooldown.Milliseconds(),
			"burst_limit": l.policy.BurstLimit,
		}).Debug("Burst limit reached, cooling down")

		if err := l.clock.Sleep(ctx, cooldown); err != nil {
			return time.Time{}, err
		}
		l.mu.Lock()
		l.burstCount = 0
		l.mu.Unlock()
	}

	l.mu.Lock()
	last := l.lastAdmission
	l.mu.Unlock()

	if !last.IsZero() {
		if elapsed := l.clock.Since(last); elapsed < l.policy.MinDelay {
			if err := l.clock.Sleep(ctx, l.policy.MinDelay-elapsed); err != nil {
				return time.Time{}, err
			}
		}
	}

	admitted := l.clock.Now()
	waited := admitted.Sub(started)

	l.mu.Lock()
	l.recentAdmissions = append(l.recentAdmissions, admitted)
	l.lastAdmission = admitted
	l.burstCount++
	l.totalAdmissions++
	l.totalWait += waited
	l.mu.Unlock()

	tracing.RecordAdmissionWait(ctx, l.identity, waited)

	return admitted, nil
}

// pruneLocked drops admissions that left the trailing window, l.mu must be held
func (l *ProviderRateLimiter) pruneLocked(now time.Time) {
	keep := 0
	for keep < len(l.recentAdmissions) && now.Sub(l.recentAdmissions[keep]) >= admissionWindow {
		keep++
	}
	if keep > 0 {
		l.recentAdmissions = append(l.recentAdmissions[:0], l.recentAdmissions[keep:]...)
	}
}

// Stats returns a snapshot of the limiter counters
func (l *ProviderRateLimiter) Stats() RateLimiterStats {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	inWindow := 0
	for _, t := range l.recentAdmissions {
		if now.Sub(t) < admissionWindow {
			inWindow++
		}
	}

	stats := RateLimiterStats{
		Kind:               l.policy.Kind,
		RatePerMinute:      l.policy.RateLimitPerMinute,
		AdmissionsInWindow: inWindow,
		BurstCount:         l.burstCount,
		TotalAdmissions:    l.totalAdmissions,
		WindowWaits:        l.windowWaits,
		BurstCooldowns:     l.burstCooldowns,
	}
	if l.totalAdmissions > 0 {
		stats.AvgWaitMs = float64(l.totalWait.Milliseconds()) / float64(l.totalAdmissions)
	}
	if !l.lastAdmission.IsZero() {
		last := l.lastAdmission
		stats.LastAdmission = &last
	}
	return stats
}

// RateLimiterStats contains statistics for a single provider limiter
type RateLimiterStats struct {
	Kind               domain.ProviderKind `json:"kind"`
	RatePerMinute      int                 `json:"rate_per_minute"`
	AdmissionsInWindow int                 `json:"admissions_in_window"`
	BurstCount         int                 `json:"burst_count"`
	TotalAdmissions    int64               `json:"total_admissions"`
	WindowWaits        int64               `json:"window_waits"`
	BurstCooldowns     int64               `json:"burst_cooldowns"`
	AvgWaitMs          float64             `json:"avg_wait_ms"`
	LastAdmission      *time.Time          `json:"last_admission,omitempty"`
}
