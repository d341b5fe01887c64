package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Priority orders queued messages, lower values are serviced first
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// MessageState tracks a message through one delivery
type MessageState string

const (
	MessageStatePending           MessageState = "pending"
	MessageStateInFlight          MessageState = "in_flight"
	MessageStatePendingRetry      MessageState = "pending_retry"
	MessageStateDelivered         MessageState = "delivered"
	MessageStatePermanentlyFailed MessageState = "permanently_failed"
	MessageStateCancelled         MessageState = "cancelled"
)

// IsTerminal reports whether no further attempt will be made
func (s MessageState) IsTerminal() bool {
	return s == MessageStateDelivered || s == MessageStatePermanentlyFailed || s == MessageStateCancelled
}

// Recipient is one entry of a batch as supplied by the caller
type Recipient struct {
	Email string                 `json:"email"`
	Name  string                 `json:"name,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Payload is the rendered message handed to the send capability
type Payload struct {
	FromAddress string            `json:"from_address"`
	FromName    string            `json:"from_name,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// HeaderBatchID carries the batch id on every message sent
const HeaderBatchID = "X-Batch-Id"

// WithHeader returns a copy of the payload with one extra header set
func (p *Payload) WithHeader(name, value string) *Payload {
	out := *p
	out.Headers = make(map[string]string, len(p.Headers)+1)
	for k, v := range p.Headers {
		out.Headers[k] = v
	}
	out.Headers[name] = value
	return &out
}

// RenderFunc turns a recipient into a payload, it may fail per recipient
type RenderFunc func(ctx context.Context, recipient Recipient) (*Payload, error)

// QueuedMessage is one message waiting in, or travelling through, a delivery queue
type QueuedMessage struct {
	ID               string
	BatchID          string
	Destination      string
	Payload          *Payload
	ProviderIdentity string
	Priority         Priority
	RetryCount       int
	Attempts         int
	LastAttemptAt    *time.Time
	EnqueuedAt       time.Time
	State            MessageState
	LastError        error
}

// NewQueuedMessage creates a pending message with normal priority
func NewQueuedMessage(batchID, destination, providerIdentity string, payload *Payload, now time.Time) *QueuedMessage {
	return &QueuedMessage{
		ID:               uuid.New().String(),
		BatchID:          batchID,
		Destination:      destination,
		Payload:          payload,
		ProviderIdentity: providerIdentity,
		Priority:         PriorityNormal,
		EnqueuedAt:       now,
		State:            MessageStatePending,
	}
}
