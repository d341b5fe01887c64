package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testPolicy(minDelay time.Duration, ratePerMinute, burst int) domain.ProviderPolicy {
	return domain.ProviderPolicy{
		Kind:               domain.ProviderKindDefault,
		MaxConcurrent:      1,
		MinDelay:           minDelay,
		RateLimitPerMinute: ratePerMinute,
		BurstLimit:         burst,
		MaxRetries:         3,
		BackoffMultiplier:  2,
		Timeout:            time.Second,
	}
}

// admitConcurrently runs n callers against the limiter at once and returns the sorted admission times
func admitConcurrently(t *testing.T, limiter *ProviderRateLimiter, n int) []time.Time {
	t.Helper()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at, err := limiter.AwaitAdmission(context.Background())
			if err != nil {
				t.Errorf("unexpected admission error: %v", err)
				return
			}
			mu.Lock()
			times = append(times, at)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

func TestProviderRateLimiter_MinDelayUnderContention(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	policy := testPolicy(2*time.Second, 20, 8)
	limiter := NewProviderRateLimiter("example.com", policy, clock, logger.NewMockLogger())

	times := admitConcurrently(t, limiter, 30)
	require.Len(t, times, 30)

	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, policy.MinDelay, "admissions %d and %d are %s apart", i-1, i, gap)
	}
}

func TestProviderRateLimiter_SlidingWindowCap(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	policy := testPolicy(100*time.Millisecond, 10, 100)
	limiter := NewProviderRateLimiter("gmail", policy, clock, logger.NewMockLogger())

	times := admitConcurrently(t, limiter, 35)
	require.Len(t, times, 35)

	for i := range times {
		inWindow := 0
		for j := i; j < len(times) && times[j].Sub(times[i]) < time.Minute; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, policy.RateLimitPerMinute, "window starting at admission %d", i)
	}

	// the 11th admission waits for the first one to leave the window plus the safety margin
	assert.GreaterOrEqual(t, times[10].Sub(times[0]), time.Minute+time.Second)

	stats := limiter.Stats()
	assert.Equal(t, int64(35), stats.TotalAdmissions)
	assert.GreaterOrEqual(t, stats.WindowWaits, int64(3))
}

func TestProviderRateLimiter_BurstCooldown(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	policy := testPolicy(time.Second, 100, 3)
	limiter := NewProviderRateLimiter("example.com", policy, clock, logger.NewMockLogger())
	ctx := context.Background()

	var times []time.Time
	for i := 0; i < 4; i++ {
		at, err := limiter.AwaitAdmission(ctx)
		require.NoError(t, err)
		times = append(times, at)
	}

	assert.Equal(t, time.Second, times[1].Sub(times[0]))
	assert.Equal(t, time.Second, times[2].Sub(times[1]))
	// the fourth admission waits 2 × minDelay and then satisfies minDelay already
	assert.Equal(t, 2*time.Second, times[3].Sub(times[2]))

	stats := limiter.Stats()
	assert.Equal(t, int64(1), stats.BurstCooldowns)
	assert.Equal(t, 1, stats.BurstCount)
	assert.Contains(t, clock.Sleeps(), 2*time.Second)
}

func TestProviderRateLimiter_BurstCounterResetsAfterWindow(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	policy := testPolicy(time.Second, 100, 3)
	limiter := NewProviderRateLimiter("example.com", policy, clock, logger.NewMockLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.AwaitAdmission(ctx)
		require.NoError(t, err)
	}

	clock.Advance(61 * time.Second)

	for i := 0; i < 3; i++ {
		_, err := limiter.AwaitAdmission(ctx)
		require.NoError(t, err)
	}

	stats := limiter.Stats()
	assert.Equal(t, int64(0), stats.BurstCooldowns)
	assert.Equal(t, 3, stats.BurstCount)
}

func TestProviderRateLimiter_FirstAdmissionIsImmediate(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	limiter := NewProviderRateLimiter("gmail", domain.DefaultPolicies()[domain.ProviderKindGmail], clock, logger.NewMockLogger())

	at, err := limiter.AwaitAdmission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testEpoch, at)
	assert.Empty(t, clock.Sleeps())

	stats := limiter.Stats()
	require.NotNil(t, stats.LastAdmission)
	assert.Equal(t, testEpoch, *stats.LastAdmission)
	assert.Equal(t, 1, stats.AdmissionsInWindow)
	assert.Equal(t, domain.ProviderKindGmail, stats.Kind)
}

func TestProviderRateLimiter_CancelledContext(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	limiter := NewProviderRateLimiter("example.com", testPolicy(time.Second, 10, 5), clock, logger.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.AwaitAdmission(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), limiter.Stats().TotalAdmissions)
}

func TestProviderRateLimiter_CancelWhileWaiting(t *testing.T) {
	limiter := NewProviderRateLimiter("example.com", testPolicy(time.Hour, 10, 5), NewRealTimeProvider(), logger.NewMockLogger())

	_, err := limiter.AwaitAdmission(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err = limiter.AwaitAdmission(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, int64(1), limiter.Stats().TotalAdmissions)
}

func TestProviderRateLimiter_IndependentIdentities(t *testing.T) {
	clock := NewSimulatedTimeProvider(testEpoch)
	policy := testPolicy(time.Hour, 10, 5)
	slow := NewProviderRateLimiter("slow.example", policy, NewRealTimeProvider(), logger.NewMockLogger())
	other := NewProviderRateLimiter("other.example", policy, clock, logger.NewMockLogger())

	_, err := slow.AwaitAdmission(context.Background())
	require.NoError(t, err)

	// a caller stuck on the slow identity must not hold back another identity
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = slow.AwaitAdmission(ctx) }()

	done := make(chan error, 1)
	go func() {
		_, err := other.AwaitAdmission(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admission on an unrelated identity was blocked")
	}
}
