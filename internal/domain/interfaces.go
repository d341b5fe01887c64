package domain

import (
	"context"
	"time"
)

// Sender hands one rendered message to a mail server or API
//
//go:generate mockgen -destination mocks/mock_sender.go -package mocks github.com/Notifuse/dispatch/internal/domain Sender
type Sender interface {
	// Send delivers payload to destination, giving up after timeout
	Send(ctx context.Context, destination string, payload *Payload, timeout time.Duration) error

	// Transport returns the transport name used to classify errors (smtp, ses, console)
	Transport() string
}

// DeliveryHistoryRepository persists terminal outcomes of deliveries
//
//go:generate mockgen -destination mocks/mock_delivery_history_repository.go -package mocks github.com/Notifuse/dispatch/internal/domain DeliveryHistoryRepository
type DeliveryHistoryRepository interface {
	Record(ctx context.Context, record *DeliveryRecord) error
	ListByBatch(ctx context.Context, batchID string) ([]*DeliveryRecord, error)
	CountByStatus(ctx context.Context, batchID string) (map[DeliveryStatus]int, error)
}

// ProgressSink receives batch progress events
type ProgressSink interface {
	OnProgress(event ProgressEvent)
}

// ProgressSinkFunc adapts a function to ProgressSink
type ProgressSinkFunc func(event ProgressEvent)

// OnProgress calls f(event)
func (f ProgressSinkFunc) OnProgress(event ProgressEvent) {
	f(event)
}
