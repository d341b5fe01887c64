package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/internal/service/monitor"
	"github.com/Notifuse/dispatch/internal/service/queue"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/tracing"
)

var errEmptyPayload = errors.New("render returned no payload")

// BatchCoordinator turns a recipient list into one delivery queue per provider
// identity and aggregates the outcomes into a BatchResult
type BatchCoordinator struct {
	registry *queue.RateLimiterRegistry
	sender   domain.Sender
	monitor  *monitor.PerformanceMonitor
	history  domain.DeliveryHistoryRepository
	resolver *HostResolver
	config   *Config
	clock    queue.TimeProvider
	logger   logger.Logger

	sinksMu sync.RWMutex
	sinks   []domain.ProgressSink
}

// NewBatchCoordinator creates a coordinator. history may be nil to skip the send history,
// a nil resolver delivers to the recipient domain without MX lookups.
func NewBatchCoordinator(
	registry *queue.RateLimiterRegistry,
	sender domain.Sender,
	perfMonitor *monitor.PerformanceMonitor,
	history domain.DeliveryHistoryRepository,
	resolver *HostResolver,
	config *Config,
	clock queue.TimeProvider,
	log logger.Logger,
) *BatchCoordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = registry.Clock()
	}
	if resolver == nil {
		noMX := *config
		noMX.MXLookup = false
		resolver = NewHostResolver(&noMX, nil, log)
	}
	return &BatchCoordinator{
		registry: registry,
		sender:   sender,
		monitor:  perfMonitor,
		history:  history,
		resolver: resolver,
		config:   config,
		clock:    clock,
		logger:   log,
	}
}

// AddProgressSink registers a sink notified of the progress of every batch
func (c *BatchCoordinator) AddProgressSink(sink domain.ProgressSink) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Monitor returns the performance monitor shared by every batch of the coordinator
func (c *BatchCoordinator) Monitor() *monitor.PerformanceMonitor {
	return c.monitor
}

// LimiterStats returns the state of every provider limiter created so far
func (c *BatchCoordinator) LimiterStats() map[string]queue.RateLimiterStats {
	return c.registry.GetStats()
}

// Close releases the resolver cache
func (c *BatchCoordinator) Close() {
	c.resolver.Stop()
}

// Submit runs a batch and blocks until it drained
func (c *BatchCoordinator) Submit(ctx context.Context, recipients []domain.Recipient, render domain.RenderFunc, providerCfg domain.ProviderConfig) (*domain.BatchResult, error) {
	b, err := c.Start(ctx, recipients, render, providerCfg)
	if err != nil {
		return nil, err
	}
	// the batch follows ctx, so it drains shortly after ctx ends
	return b.Wait(context.Background())
}

// Start validates the batch and starts delivering it in the background.
// The batch is bound to ctx: cancelling ctx cancels the batch.
func (c *BatchCoordinator) Start(ctx context.Context, recipients []domain.Recipient, render domain.RenderFunc, providerCfg domain.ProviderConfig) (*Batch, error) {
	if len(recipients) == 0 {
		return nil, NewBatchError(ErrCodeNoRecipients, "Batch has no recipients", false, nil)
	}
	if len(recipients) > c.config.MaxBatchSize {
		return nil, NewBatchError(ErrCodeBatchTooLarge, "Batch exceeds the maximum size", false,
			fmt.Errorf("%d recipients, maximum is %d", len(recipients), c.config.MaxBatchSize))
	}
	if render == nil {
		return nil, NewBatchError(ErrCodeRendererMissing, "Batch has no render function", false, nil)
	}

	batchID := uuid.New().String()
	batchCtx, cancel := context.WithCancel(ctx)
	b := newBatch(batchID, len(recipients), cancel)

	c.sinksMu.RLock()
	sinks := append([]domain.ProgressSink(nil), c.sinks...)
	c.sinksMu.RUnlock()

	log := c.logger.WithField("batch_id", batchID)
	r := &batchRun{
		coordinator: c,
		batch:       b,
		ctx:         batchCtx,
		providerCfg: providerCfg,
		tracker:     newProgressTracker(batchID, len(recipients), c.clock, c.config, log),
		recorder:    &attemptRecorder{next: c.monitor},
		sinks:       sinks,
		logger:      log,
		startedAt:   c.clock.Now(),
		before:      c.monitor.Snapshot(),
	}

	log.WithFields(map[string]interface{}{
		"recipients": len(recipients),
		"relay_host": providerCfg.Host,
	}).Info("Batch started")

	go r.run(recipients, render)
	return b, nil
}

// attemptRecorder forwards attempt outcomes to the monitor and keeps the batch latency average
type attemptRecorder struct {
	next queue.OutcomeRecorder

	mu      sync.Mutex
	count   int64
	totalMs float64
}

func (r *attemptRecorder) RecordSuccess(provider string, latency time.Duration) {
	r.add(latency)
	r.next.RecordSuccess(provider, latency)
}

func (r *attemptRecorder) RecordFailure(provider string, latency time.Duration) {
	r.add(latency)
	r.next.RecordFailure(provider, latency)
}

func (r *attemptRecorder) add(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.totalMs += float64(latency) / float64(time.Millisecond)
}

func (r *attemptRecorder) averageMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	return r.totalMs / float64(r.count)
}

// batchRun is the state of one batch while it is delivered
type batchRun struct {
	coordinator *BatchCoordinator
	batch       *Batch
	ctx         context.Context
	providerCfg domain.ProviderConfig
	tracker     *progressTracker
	recorder    *attemptRecorder
	sinks       []domain.ProgressSink
	logger      logger.Logger
	startedAt   time.Time
	before      monitor.Snapshot

	historyWG sync.WaitGroup
}

func (r *batchRun) run(recipients []domain.Recipient, render domain.RenderFunc) {
	c := r.coordinator
	defer r.batch.cancel()

	spanCtx, span := tracing.StartSpanWithAttributes(r.ctx, "dispatch.batch",
		trace.StringAttribute("batch_id", r.batch.id),
		trace.Int64Attribute("recipients", int64(len(recipients))),
	)

	worker := queue.NewDeliveryWorker(c.registry, c.sender, r.recorder, c.clock, r.logger)
	callbacks := queue.QueueCallbacks{
		OnDelivered: r.onDelivered,
		OnFailed:    r.onFailed,
		OnRetry:     r.onRetry,
	}
	queues := make(map[string]*queue.DeliveryQueue)

	for i, recipient := range recipients {
		if r.ctx.Err() != nil {
			for _, skipped := range recipients[i:] {
				r.report(domain.FailedDelivery{
					Destination: skipped.Email,
					Kind:        domain.DeliveryErrorCancelled,
					Category:    string(domain.DeliveryErrorCancelled),
					Error:       r.ctx.Err().Error(),
					FailedAt:    c.clock.Now(),
				})
			}
			break
		}

		payload, err := render(r.ctx, recipient)
		if err == nil && payload == nil {
			err = errEmptyPayload
		}
		if err != nil {
			r.logger.WithFields(map[string]interface{}{
				"destination": recipient.Email,
				"error":       err.Error(),
			}).Warn("Failed to render message, recipient skipped")
			r.report(domain.FailedDelivery{
				Destination: recipient.Email,
				Kind:        domain.DeliveryErrorRender,
				Category:    categoryRender,
				Error:       err.Error(),
				FailedAt:    c.clock.Now(),
			})
			continue
		}

		host := c.resolver.DestinationHost(r.ctx, recipient.Email, r.providerCfg)
		provider := c.registry.Resolve(host)

		q, ok := queues[provider.Identity]
		if !ok {
			q = queue.NewDeliveryQueue(spanCtx, worker, c.clock, callbacks, r.logger.WithField("provider", provider.Identity))
			queues[provider.Identity] = q
		}

		payload = payload.WithHeader(domain.HeaderBatchID, r.batch.id)
		msg := domain.NewQueuedMessage(r.batch.id, recipient.Email, provider.Identity, payload, c.clock.Now())
		if err := q.Enqueue(msg); err != nil {
			msg.State = domain.MessageStateCancelled
			r.onFailed(msg, domain.NewDeliveryError(domain.DeliveryErrorCancelled, string(domain.DeliveryErrorCancelled), 0, err))
		}
	}

	// every queue keeps running until its messages are terminal, cancellation included
	var g errgroup.Group
	for _, q := range queues {
		q := q
		g.Go(func() error {
			return q.Wait(context.Background())
		})
	}
	_ = g.Wait()
	for _, q := range queues {
		q.Close()
	}
	r.historyWG.Wait()

	cancelled := r.ctx.Err() != nil
	result := r.result()

	tracing.RecordBatchOutcome(spanCtx, string(domain.DeliveryStatusDelivered), result.Succeeded)
	tracing.RecordBatchOutcome(spanCtx, string(domain.DeliveryStatusPermanentlyFailed), result.Failed)
	tracing.RecordBatchOutcome(spanCtx, string(domain.DeliveryStatusCancelled), result.Cancelled)
	span.AddAttributes(
		trace.Int64Attribute("succeeded", int64(result.Succeeded)),
		trace.Int64Attribute("failed", int64(result.Failed)),
		trace.Int64Attribute("cancelled", int64(result.Cancelled)),
	)
	var batchErr error
	if cancelled {
		batchErr = NewBatchErrorWithID(ErrCodeBatchCancelled, "Batch cancelled", r.batch.id, true, context.Cause(r.ctx))
	}
	tracing.EndSpan(span, batchErr)

	r.logger.WithFields(map[string]interface{}{
		"total":        result.Total,
		"succeeded":    result.Succeeded,
		"failed":       result.Failed,
		"cancelled":    result.Cancelled,
		"success_rate": result.SuccessRate,
		"duration_ms":  result.TotalDurationMs,
		"retries":      result.RetryStats.TotalRetries,
	}).Info("Batch completed")
	c.monitor.LogSummary()

	r.batch.result = result
	r.batch.err = batchErr
	close(r.batch.progress)
	close(r.batch.failures)
	close(r.batch.done)
}

func (r *batchRun) onDelivered(msg *domain.QueuedMessage, _ time.Duration) {
	event := r.tracker.Delivered(msg.Attempts)
	r.publish(event)
	r.record(&domain.DeliveryRecord{
		MessageID:        msg.ID,
		Destination:      msg.Destination,
		ProviderIdentity: msg.ProviderIdentity,
		Status:           domain.DeliveryStatusDelivered,
		Attempts:         msg.Attempts,
	})
}

func (r *batchRun) onFailed(msg *domain.QueuedMessage, derr *domain.DeliveryError) {
	failure := domain.FailedDelivery{
		MessageID:        msg.ID,
		Destination:      msg.Destination,
		ProviderIdentity: msg.ProviderIdentity,
		Kind:             derr.Kind,
		Category:         derr.Category,
		Attempts:         msg.Attempts,
		FailedAt:         r.coordinator.clock.Now(),
	}
	if derr.Err != nil {
		failure.Error = derr.Err.Error()
	} else {
		failure.Error = derr.Error()
	}
	r.report(failure)
}

func (r *batchRun) onRetry(msg *domain.QueuedMessage, err error, delay time.Duration) {
	r.logger.WithFields(map[string]interface{}{
		"message_id":  msg.ID,
		"provider":    msg.ProviderIdentity,
		"retry_count": msg.RetryCount,
		"delay_ms":    delay.Milliseconds(),
		"error":       err.Error(),
	}).Debug("Message will be retried")
}

// report accounts a message that ended without being delivered
func (r *batchRun) report(failure domain.FailedDelivery) {
	event := r.tracker.Failed(failure)
	r.batch.failures <- failure
	r.publish(event)

	status := domain.DeliveryStatusPermanentlyFailed
	if failure.Kind == domain.DeliveryErrorCancelled {
		status = domain.DeliveryStatusCancelled
	}
	category, detail := failure.Category, failure.Error
	r.record(&domain.DeliveryRecord{
		MessageID:        failure.MessageID,
		Destination:      failure.Destination,
		ProviderIdentity: failure.ProviderIdentity,
		Status:           status,
		Attempts:         failure.Attempts,
		ErrorCategory:    &category,
		ErrorDetail:      &detail,
	})
}

func (r *batchRun) publish(event domain.ProgressEvent) {
	r.batch.progress <- event
	for _, sink := range r.sinks {
		sink.OnProgress(event)
	}
}

// record writes a history entry in the background, failures are logged only
func (r *batchRun) record(rec *domain.DeliveryRecord) {
	c := r.coordinator
	if c.history == nil {
		return
	}
	rec.ID = uuid.New().String()
	rec.BatchID = r.batch.id
	rec.CreatedAt = c.clock.Now()

	r.historyWG.Add(1)
	go func() {
		defer r.historyWG.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), c.config.HistoryTimeout)
		defer cancel()
		if err := c.history.Record(ctx, rec); err != nil {
			r.logger.WithFields(map[string]interface{}{
				"destination": rec.Destination,
				"status":      rec.Status,
				"error":       err.Error(),
			}).Warn("Failed to record delivery history")
		}
	}()
}

func (r *batchRun) result() *domain.BatchResult {
	c := r.coordinator
	summary := r.tracker.Summary()
	completedAt := c.clock.Now()
	duration := completedAt.Sub(r.startedAt)

	result := &domain.BatchResult{
		BatchID:              r.batch.id,
		Total:                r.batch.total,
		Succeeded:            summary.Succeeded,
		Failed:               summary.Failed,
		Cancelled:            summary.Cancelled,
		TotalDurationMs:      duration.Milliseconds(),
		PeakThroughputPerSec: summary.Peak,
		AvgAttemptLatencyMs:  r.recorder.averageMs(),
		RetryStats:           summary.RetryStats,
		ErrorBreakdown:       summary.ErrorBreakdown,
		MonitorDelta:         c.monitor.Snapshot().Delta(r.before),
		Failures:             summary.Failures,
		StartedAt:            r.startedAt,
		CompletedAt:          completedAt,
	}
	if result.Total > 0 {
		result.SuccessRate = float64(result.Succeeded) / float64(result.Total) * 100
	}
	if duration > 0 {
		processed := result.Succeeded + result.Failed + result.Cancelled
		result.AvgThroughputPerSec = float64(processed) / duration.Seconds()
	}
	return result
}
