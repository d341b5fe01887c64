package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opencensus.io/trace"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/emailerror"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/tracing"
)

// OutcomeRecorder receives the result of every send attempt
type OutcomeRecorder interface {
	RecordSuccess(provider string, latency time.Duration)
	RecordFailure(provider string, latency time.Duration)
}

// AttemptResult is the outcome of one send attempt
type AttemptResult struct {
	// Admitted is false when the context ended before the rate limiter let the attempt start
	Admitted bool
	Err      error
	Kind     domain.DeliveryErrorKind
	Category emailerror.Category
	Latency  time.Duration
	Policy   domain.ProviderPolicy
}

// DeliveryWorker performs single send attempts: admission, send under a deadline, recording
type DeliveryWorker struct {
	registry        *RateLimiterRegistry
	sender          domain.Sender
	recorder        OutcomeRecorder
	errorClassifier *emailerror.Classifier
	clock           TimeProvider
	logger          logger.Logger
}

// NewDeliveryWorker creates a new DeliveryWorker
func NewDeliveryWorker(
	registry *RateLimiterRegistry,
	sender domain.Sender,
	recorder OutcomeRecorder,
	clock TimeProvider,
	log logger.Logger,
) *DeliveryWorker {
	if clock == nil {
		clock = registry.Clock()
	}
	return &DeliveryWorker{
		registry:        registry,
		sender:          sender,
		recorder:        recorder,
		errorClassifier: emailerror.NewClassifier(),
		clock:           clock,
		logger:          log,
	}
}

// Attempt waits for admission then sends msg once. The send itself is detached
// from ctx cancellation and bounded by the policy timeout only, so an attempt
// that started always runs to completion.
func (w *DeliveryWorker) Attempt(ctx context.Context, msg *domain.QueuedMessage) AttemptResult {
	limiter := w.registry.LimiterFor(msg.ProviderIdentity)
	policy := limiter.Policy()

	if _, err := limiter.AwaitAdmission(ctx); err != nil {
		w.logger.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"provider":   msg.ProviderIdentity,
			"error":      err.Error(),
		}).Debug("Admission wait cancelled")
		return AttemptResult{Err: err, Kind: domain.DeliveryErrorCancelled, Policy: policy}
	}

	started := w.clock.Now()
	msg.State = domain.MessageStateInFlight
	msg.LastAttemptAt = &started
	msg.Attempts++

	spanCtx, span := tracing.StartSpanWithAttributes(ctx, "dispatch.attempt",
		trace.StringAttribute("provider", msg.ProviderIdentity),
		trace.Int64Attribute("retry_count", int64(msg.RetryCount)),
	)
	defer span.End()

	err := w.send(spanCtx, msg, policy.Timeout)
	latency := w.clock.Since(started)

	result := AttemptResult{Admitted: true, Err: err, Latency: latency, Policy: policy}

	if err == nil {
		w.recorder.RecordSuccess(msg.ProviderIdentity, latency)
		tracing.RecordAttempt(ctx, msg.ProviderIdentity, tracing.OutcomeSuccess, latency)
		w.logger.WithFields(map[string]interface{}{
			"message_id":  msg.ID,
			"destination": msg.Destination,
			"provider":    msg.ProviderIdentity,
			"retry_count": msg.RetryCount,
			"latency_ms":  latency.Milliseconds(),
		}).Debug("Message delivered")
		return result
	}

	w.recorder.RecordFailure(msg.ProviderIdentity, latency)
	tracing.RecordAttempt(ctx, msg.ProviderIdentity, tracing.OutcomeFailure, latency)
	tracing.MarkSpanError(spanCtx, err)

	// classification labels the failure, every failure is retried within the budget
	classified := w.errorClassifier.Classify(err, w.sender.Transport())
	result.Category = classified.Category
	result.Kind = domain.DeliveryErrorTransient
	if classified.Category == emailerror.CategoryTimeout {
		result.Kind = domain.DeliveryErrorTimeout
	}

	w.logger.WithFields(map[string]interface{}{
		"message_id":  msg.ID,
		"destination": msg.Destination,
		"provider":    msg.ProviderIdentity,
		"retry_count": msg.RetryCount,
		"category":    classified.Category,
		"status_code": classified.StatusCode,
		"error":       err.Error(),
	}).Warn("Send attempt failed")

	return result
}

// send runs the sender with a deadline and gives up at the deadline even if the sender does not
func (w *DeliveryWorker) send(ctx context.Context, msg *domain.QueuedMessage, timeout time.Duration) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sender panicked: %v", r)
			}
		}()
		done <- w.sender.Send(sendCtx, msg.Destination, msg.Payload, timeout)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("send timed out after %s: %w", timeout, err)
		}
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send timed out after %s: %w", timeout, sendCtx.Err())
	}
}
