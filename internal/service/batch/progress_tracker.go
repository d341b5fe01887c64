package batch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/internal/service/queue"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// throughputWindow is the trailing history used for the current throughput
const throughputWindow = 5 * time.Second

// categoryRender labels recipients whose payload could not be rendered
const categoryRender = "render"

type progressSample struct {
	at        time.Time
	processed int
}

// progressSummary is the aggregated state of a tracker once the batch drained
type progressSummary struct {
	Succeeded      int
	Failed         int
	Cancelled      int
	Peak           float64
	RetryStats     domain.RetryStats
	ErrorBreakdown map[string]int
	Failures       []domain.FailedDelivery
}

// progressTracker counts terminal outcomes of one batch and derives throughput
type progressTracker struct {
	batchID string
	total   int
	clock   queue.TimeProvider
	logger  logger.Logger
	logs    *rate.Sometimes

	mu         sync.Mutex
	succeeded  int
	failed     int
	cancelled  int
	retryStats domain.RetryStats
	breakdown  map[string]int
	failures   []domain.FailedDelivery
	history    []progressSample
	peak       float64
}

func newProgressTracker(batchID string, total int, clock queue.TimeProvider, cfg *Config, log logger.Logger) *progressTracker {
	logs := &rate.Sometimes{First: 1, Interval: cfg.ProgressLogInterval}
	if cfg.ProgressLogInterval <= 0 {
		logs = &rate.Sometimes{Every: 1}
	}
	return &progressTracker{
		batchID:   batchID,
		total:     total,
		clock:     clock,
		logger:    log,
		logs:      logs,
		breakdown: make(map[string]int),
		history:   []progressSample{{at: clock.Now()}},
	}
}

// Delivered records a delivered message that took attempts sends
func (t *progressTracker) Delivered(attempts int) domain.ProgressEvent {
	t.mu.Lock()
	t.succeeded++
	retries := t.addRetriesLocked(attempts)
	if retries > 0 {
		t.retryStats.SucceededAfterRetry++
	}
	event := t.eventLocked()
	t.mu.Unlock()

	t.logProgress(event)
	return event
}

// Failed records a message that ended without being delivered
func (t *progressTracker) Failed(failure domain.FailedDelivery) domain.ProgressEvent {
	t.mu.Lock()
	if failure.Kind == domain.DeliveryErrorCancelled {
		t.cancelled++
	} else {
		t.failed++
		t.breakdown[failure.Category]++
	}
	t.addRetriesLocked(failure.Attempts)
	t.failures = append(t.failures, failure)
	event := t.eventLocked()
	t.mu.Unlock()

	t.logProgress(event)
	return event
}

// Summary returns the aggregated outcomes
func (t *progressTracker) Summary() progressSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	breakdown := make(map[string]int, len(t.breakdown))
	for category, n := range t.breakdown {
		breakdown[category] = n
	}
	return progressSummary{
		Succeeded:      t.succeeded,
		Failed:         t.failed,
		Cancelled:      t.cancelled,
		Peak:           t.peak,
		RetryStats:     t.retryStats,
		ErrorBreakdown: breakdown,
		Failures:       append([]domain.FailedDelivery(nil), t.failures...),
	}
}

func (t *progressTracker) addRetriesLocked(attempts int) int {
	retries := attempts - 1
	if retries <= 0 {
		return 0
	}
	t.retryStats.TotalRetries += retries
	if retries > t.retryStats.MaxRetriesUsed {
		t.retryStats.MaxRetriesUsed = retries
	}
	return retries
}

func (t *progressTracker) eventLocked() domain.ProgressEvent {
	now := t.clock.Now()
	processed := t.succeeded + t.failed + t.cancelled

	t.history = append(t.history, progressSample{at: now, processed: processed})
	keep := 0
	for keep < len(t.history)-1 && now.Sub(t.history[keep].at) > throughputWindow {
		keep++
	}
	t.history = t.history[keep:]

	var current float64
	oldest := t.history[0]
	if elapsed := now.Sub(oldest.at); len(t.history) >= 2 && elapsed > 0 {
		current = float64(processed-oldest.processed) / elapsed.Seconds()
	}
	if current > t.peak {
		t.peak = current
	}

	return domain.ProgressEvent{
		BatchID:           t.batchID,
		Processed:         processed,
		Total:             t.total,
		Succeeded:         t.succeeded,
		Failed:            t.failed,
		CurrentThroughput: current,
		Timestamp:         now,
	}
}

func (t *progressTracker) logProgress(event domain.ProgressEvent) {
	log := func() {
		t.logger.WithFields(map[string]interface{}{
			"batch_id":   event.BatchID,
			"processed":  event.Processed,
			"total":      event.Total,
			"succeeded":  event.Succeeded,
			"failed":     event.Failed,
			"throughput": event.CurrentThroughput,
			"progress":   event.Percent(),
		}).Info("Batch progress")
	}
	if event.Processed == event.Total {
		log()
		return
	}
	t.logs.Do(log)
}
