package queue

import (
	"context"
	"time"
)

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	// Stop prevents the callback from running, it returns false if it already ran or was stopped
	Stop() bool
}

// TimeProvider is an interface that provides time-related functionality
// that can be mocked in tests
type TimeProvider interface {
	// Now returns the current time
	Now() time.Time

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration

	// Sleep suspends the caller for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error

	// AfterFunc runs f in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// RealTimeProvider is the default implementation of TimeProvider
// that uses the actual system time
type RealTimeProvider struct{}

// NewRealTimeProvider creates a new RealTimeProvider
func NewRealTimeProvider() TimeProvider {
	return &RealTimeProvider{}
}

// Now returns the current time
func (rtp RealTimeProvider) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t
func (rtp RealTimeProvider) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation
func (rtp RealTimeProvider) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AfterFunc wraps time.AfterFunc
func (rtp RealTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
