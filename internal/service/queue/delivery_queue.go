package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// DeliveredCallback is called when a message is delivered
type DeliveredCallback func(msg *domain.QueuedMessage, latency time.Duration)

// FailedCallback is called when a message reaches a terminal failure, permanent or cancelled
type FailedCallback func(msg *domain.QueuedMessage, err *domain.DeliveryError)

// RetryCallback is called when a failed attempt is scheduled for another try
type RetryCallback func(msg *domain.QueuedMessage, err error, delay time.Duration)

// QueueCallbacks groups the optional outcome callbacks of a DeliveryQueue
type QueueCallbacks struct {
	OnDelivered DeliveredCallback
	OnFailed    FailedCallback
	OnRetry     RetryCallback
}

// QueueStatus is a point-in-time view of a queue
type QueueStatus struct {
	Pending        int  `json:"pending"`
	PendingRetries int  `json:"pending_retries"`
	Outstanding    int  `json:"outstanding"`
	Draining       bool `json:"draining"`
	Closed         bool `json:"closed"`
}

// DeliveryQueue keeps pending messages ordered by (priority, retryCount) and
// runs at most one drain goroutine at a time. Retries wait on timers owned by
// the queue, so a message counts as outstanding until it is terminal.
type DeliveryQueue struct {
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *DeliveryWorker
	clock     TimeProvider
	callbacks QueueCallbacks
	logger    logger.Logger

	mu          sync.Mutex
	items       []*domain.QueuedMessage
	draining    bool
	closed      bool
	outstanding int
	retries     map[string]*pendingRetry
	idle        chan struct{}
	stopWatch   func() bool
}

type pendingRetry struct {
	msg   *domain.QueuedMessage
	timer Timer
}

// NewDeliveryQueue creates a queue bound to ctx: cancelling ctx cancels the queue
func NewDeliveryQueue(ctx context.Context, worker *DeliveryWorker, clock TimeProvider, callbacks QueueCallbacks, log logger.Logger) *DeliveryQueue {
	if clock == nil {
		clock = worker.clock
	}
	qctx, cancel := context.WithCancel(ctx)

	idle := make(chan struct{})
	close(idle)

	q := &DeliveryQueue{
		ctx:       qctx,
		cancel:    cancel,
		worker:    worker,
		clock:     clock,
		callbacks: callbacks,
		logger:    log,
		retries:   make(map[string]*pendingRetry),
		idle:      idle,
	}
	q.mu.Lock()
	q.stopWatch = context.AfterFunc(ctx, q.Cancel)
	q.mu.Unlock()
	return q
}

// Enqueue adds a new message and starts a drain if none is running
func (q *DeliveryQueue) Enqueue(msg *domain.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrQueueClosed
	}

	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++

	msg.State = domain.MessageStatePending
	q.insertLocked(msg)
	q.startDrainLocked()
	return nil
}

// Drain starts a drain if the queue has pending messages and none is running.
// It reports whether a drain was started, so draining an empty queue is a no-op.
func (q *DeliveryQueue) Drain() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startDrainLocked()
}

// Wait blocks until every message enqueued so far is delivered, failed or cancelled
func (q *DeliveryQueue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.outstanding == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// Cancel stops pulling messages, drops pending ones and abandons scheduled retries.
// An attempt already in flight completes, its failure is reported as cancelled.
func (q *DeliveryQueue) Cancel() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()

	abandoned := q.items
	q.items = nil
	for id, retry := range q.retries {
		retry.timer.Stop()
		abandoned = append(abandoned, retry.msg)
		delete(q.retries, id)
	}
	stopWatch := q.stopWatch
	q.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}

	if len(abandoned) > 0 {
		q.logger.WithField("abandoned", len(abandoned)).Info("Delivery queue cancelled")
	}
	for _, msg := range abandoned {
		q.finishCancelled(msg)
	}
}

// Close releases the queue, any work still pending is cancelled
func (q *DeliveryQueue) Close() {
	q.Cancel()
}

// Status returns the current queue status
func (q *DeliveryQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Pending:        len(q.items),
		PendingRetries: len(q.retries),
		Outstanding:    q.outstanding,
		Draining:       q.draining,
		Closed:         q.closed,
	}
}

// insertLocked appends msg and restores the (priority, retryCount) order
func (q *DeliveryQueue) insertLocked(msg *domain.QueuedMessage) {
	q.items = append(q.items, msg)
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.RetryCount < b.RetryCount
	})
}

func (q *DeliveryQueue) startDrainLocked() bool {
	if q.draining || q.closed || len(q.items) == 0 {
		return false
	}
	q.draining = true
	go q.drain()
	return true
}

// pop returns the head of the queue, or nil and clears the draining flag when there is nothing to do
func (q *DeliveryQueue) pop() *domain.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		q.draining = false
		return nil
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg
}

func (q *DeliveryQueue) drain() {
	for {
		msg := q.pop()
		if msg == nil {
			return
		}
		result := q.worker.Attempt(q.ctx, msg)
		q.handleResult(msg, result)
	}
}

func (q *DeliveryQueue) handleResult(msg *domain.QueuedMessage, result AttemptResult) {
	if !result.Admitted {
		q.finishCancelled(msg)
		return
	}

	if result.Err == nil {
		msg.State = domain.MessageStateDelivered
		msg.LastError = nil
		if q.callbacks.OnDelivered != nil {
			q.callbacks.OnDelivered(msg, result.Latency)
		}
		q.done()
		return
	}

	msg.RetryCount++
	msg.LastError = result.Err

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.finishCancelled(msg)
		return
	}

	if msg.RetryCount > result.Policy.MaxRetries {
		q.mu.Unlock()

		msg.State = domain.MessageStatePermanentlyFailed
		q.logger.WithFields(map[string]interface{}{
			"message_id":  msg.ID,
			"destination": msg.Destination,
			"provider":    msg.ProviderIdentity,
			"attempts":    msg.Attempts,
			"error":       result.Err.Error(),
		}).Warn("Message permanently failed")

		if q.callbacks.OnFailed != nil {
			q.callbacks.OnFailed(msg, domain.NewDeliveryError(domain.DeliveryErrorPermanent, string(result.Category), msg.Attempts, result.Err))
		}
		q.done()
		return
	}

	delay := result.Policy.RetryDelay(msg.RetryCount)
	msg.State = domain.MessageStatePendingRetry
	// the timer may fire and hand msg to the drain before the callback runs
	snapshot := *msg
	retry := &pendingRetry{msg: msg}
	q.retries[msg.ID] = retry
	retry.timer = q.clock.AfterFunc(delay, func() { q.requeue(snapshot.ID) })
	q.mu.Unlock()

	q.logger.WithFields(map[string]interface{}{
		"message_id":  snapshot.ID,
		"provider":    snapshot.ProviderIdentity,
		"retry_count": snapshot.RetryCount,
		"delay_ms":    delay.Milliseconds(),
	}).Debug("Scheduled retry")

	if q.callbacks.OnRetry != nil {
		q.callbacks.OnRetry(&snapshot, result.Err, delay)
	}
}

// requeue moves a message whose backoff elapsed back into the queue
func (q *DeliveryQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Cancel may have claimed it already
	retry, ok := q.retries[id]
	if !ok {
		return
	}
	delete(q.retries, id)

	retry.msg.State = domain.MessageStatePending
	q.insertLocked(retry.msg)
	q.startDrainLocked()
}

func (q *DeliveryQueue) finishCancelled(msg *domain.QueuedMessage) {
	msg.State = domain.MessageStateCancelled
	if q.callbacks.OnFailed != nil {
		q.callbacks.OnFailed(msg, domain.NewDeliveryError(domain.DeliveryErrorCancelled, "cancelled", msg.Attempts, msg.LastError))
	}
	q.done()
}

func (q *DeliveryQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}
