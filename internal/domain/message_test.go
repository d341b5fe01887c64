package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewQueuedMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := &Payload{Subject: "hello"}

	a := NewQueuedMessage("batch-1", "a@gmail.com", "gmail", payload, now)
	b := NewQueuedMessage("batch-1", "b@gmail.com", "gmail", payload, now)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, PriorityNormal, a.Priority)
	assert.Equal(t, MessageStatePending, a.State)
	assert.Equal(t, 0, a.RetryCount)
	assert.Nil(t, a.LastAttemptAt)
	assert.Equal(t, 0, a.Attempts)
	assert.Equal(t, "batch-1", a.BatchID)
	assert.Equal(t, now, a.EnqueuedAt)
}

func TestMessageState_IsTerminal(t *testing.T) {
	assert.False(t, MessageStatePending.IsTerminal())
	assert.False(t, MessageStateInFlight.IsTerminal())
	assert.False(t, MessageStatePendingRetry.IsTerminal())
	assert.True(t, MessageStateDelivered.IsTerminal())
	assert.True(t, MessageStatePermanentlyFailed.IsTerminal())
	assert.True(t, MessageStateCancelled.IsTerminal())
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(9).String())
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("421 try again later")
	err := NewDeliveryError(DeliveryErrorPermanent, "rate_limit", 4, cause)

	assert.Equal(t, "permanent delivery failure after 4 attempt(s): 421 try again later", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("deliver: %w", err)
	assert.True(t, IsDeliveryErrorKind(wrapped, DeliveryErrorPermanent))
	assert.False(t, IsDeliveryErrorKind(wrapped, DeliveryErrorRender))
	assert.False(t, IsDeliveryErrorKind(cause, DeliveryErrorPermanent))

	bare := NewDeliveryError(DeliveryErrorCancelled, "", 0, nil)
	assert.Equal(t, "cancelled delivery failure after 0 attempt(s)", bare.Error())
}

func TestProgressEvent_Percent(t *testing.T) {
	assert.Equal(t, 50.0, ProgressEvent{Processed: 5, Total: 10}.Percent())
	assert.Equal(t, 100.0, ProgressEvent{}.Percent())
}

func TestProgressSinkFunc(t *testing.T) {
	var got ProgressEvent
	var sink ProgressSink = ProgressSinkFunc(func(e ProgressEvent) { got = e })
	sink.OnProgress(ProgressEvent{BatchID: "b", Processed: 1})
	assert.Equal(t, "b", got.BatchID)
}

func TestPayload_WithHeader(t *testing.T) {
	original := &Payload{Subject: "hello", Headers: map[string]string{"X-Campaign": "spring"}}

	tagged := original.WithHeader(HeaderBatchID, "batch-7")

	assert.Equal(t, "hello", tagged.Subject)
	assert.Equal(t, map[string]string{"X-Campaign": "spring", "X-Batch-Id": "batch-7"}, tagged.Headers)
	assert.Equal(t, map[string]string{"X-Campaign": "spring"}, original.Headers)

	bare := (&Payload{Subject: "hi"}).WithHeader(HeaderBatchID, "batch-8")
	assert.Equal(t, map[string]string{"X-Batch-Id": "batch-8"}, bare.Headers)
}
