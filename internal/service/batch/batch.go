package batch

import (
	"context"

	"github.com/Notifuse/dispatch/internal/domain"
)

// Batch is the handle of a running batch. Both streams are buffered for the
// whole batch so an absent reader never slows delivery, and both are closed
// once the batch drained.
type Batch struct {
	id       string
	total    int
	progress chan domain.ProgressEvent
	failures chan domain.FailedDelivery
	cancel   context.CancelFunc
	done     chan struct{}

	// set before done is closed
	result *domain.BatchResult
	err    error
}

func newBatch(id string, total int, cancel context.CancelFunc) *Batch {
	return &Batch{
		id:       id,
		total:    total,
		progress: make(chan domain.ProgressEvent, total),
		failures: make(chan domain.FailedDelivery, total),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ID returns the batch id
func (b *Batch) ID() string {
	return b.id
}

// Total returns the number of recipients submitted
func (b *Batch) Total() int {
	return b.total
}

// Progress streams one event per message reaching a terminal state
func (b *Batch) Progress() <-chan domain.ProgressEvent {
	return b.progress
}

// Failures streams every message that ended without being delivered
func (b *Batch) Failures() <-chan domain.FailedDelivery {
	return b.failures
}

// Cancel stops the batch: no new attempt starts, pending retries are abandoned.
// Attempts already in flight complete and delivered messages stay delivered.
func (b *Batch) Cancel() {
	b.cancel()
}

// Done is closed once the batch drained
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch drained and returns its result. A cancelled batch
// returns its partial result together with a BATCH_CANCELLED error.
func (b *Batch) Wait(ctx context.Context) (*domain.BatchResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return b.result, b.err
	}
}
