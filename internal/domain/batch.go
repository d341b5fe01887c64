package domain

import "time"

// ProviderConfig describes how a batch reaches its destinations
type ProviderConfig struct {
	// Host is the relay host every message goes through, empty means per-recipient MX resolution
	Host string `json:"host,omitempty"`
}

// RetryStats summarizes retries across a batch
type RetryStats struct {
	TotalRetries        int `json:"total_retries"`
	MaxRetriesUsed      int `json:"max_retries_used"`
	SucceededAfterRetry int `json:"succeeded_after_retry"`
}

// MonitorDelta is the change of the performance monitor counters over a batch, counted in attempts
type MonitorDelta struct {
	AttemptsSucceeded int64 `json:"attempts_succeeded"`
	AttemptsFailed    int64 `json:"attempts_failed"`
}

// FailedDelivery is a message that reached a terminal state other than delivered
type FailedDelivery struct {
	MessageID        string            `json:"message_id,omitempty"`
	Destination      string            `json:"destination"`
	ProviderIdentity string            `json:"provider_identity,omitempty"`
	Kind             DeliveryErrorKind `json:"kind"`
	Category         string            `json:"category"`
	Attempts         int               `json:"attempts"`
	Error            string            `json:"error"`
	FailedAt         time.Time         `json:"failed_at"`
}

// BatchResult is the immutable summary returned once a batch has drained
type BatchResult struct {
	BatchID              string           `json:"batch_id"`
	Total                int              `json:"total"`
	Succeeded            int              `json:"succeeded"`
	Failed               int              `json:"failed"`
	Cancelled            int              `json:"cancelled"`
	SuccessRate          float64          `json:"success_rate"`
	TotalDurationMs      int64            `json:"total_duration_ms"`
	AvgThroughputPerSec  float64          `json:"avg_throughput_per_sec"`
	PeakThroughputPerSec float64          `json:"peak_throughput_per_sec"`
	AvgAttemptLatencyMs  float64          `json:"avg_attempt_latency_ms"`
	RetryStats           RetryStats       `json:"retry_stats"`
	ErrorBreakdown       map[string]int   `json:"error_breakdown"`
	MonitorDelta         MonitorDelta     `json:"monitor_delta"`
	Failures             []FailedDelivery `json:"failures,omitempty"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          time.Time        `json:"completed_at"`
}

// ProgressEvent is emitted each time a message of a batch reaches a terminal state
type ProgressEvent struct {
	BatchID           string    `json:"batch_id"`
	Processed         int       `json:"processed"`
	Total             int       `json:"total"`
	Succeeded         int       `json:"succeeded"`
	Failed            int       `json:"failed"`
	CurrentThroughput float64   `json:"current_throughput"`
	Timestamp         time.Time `json:"timestamp"`
}

// Percent returns the processed share in the 0-100 range
func (e ProgressEvent) Percent() float64 {
	if e.Total == 0 {
		return 100
	}
	return float64(e.Processed) * 100 / float64(e.Total)
}

// DeliveryStatus is the terminal outcome stored in the send history
type DeliveryStatus string

const (
	DeliveryStatusDelivered         DeliveryStatus = "delivered"
	DeliveryStatusPermanentlyFailed DeliveryStatus = "permanently_failed"
	DeliveryStatusCancelled         DeliveryStatus = "cancelled"
)

// DeliveryRecord is one send history entry
type DeliveryRecord struct {
	ID               string         `json:"id"`
	BatchID          string         `json:"batch_id"`
	MessageID        string         `json:"message_id,omitempty"`
	Destination      string         `json:"destination"`
	ProviderIdentity string         `json:"provider_identity"`
	Status           DeliveryStatus `json:"status"`
	Attempts         int            `json:"attempts"`
	ErrorCategory    *string        `json:"error_category,omitempty"`
	ErrorDetail      *string        `json:"error_detail,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
