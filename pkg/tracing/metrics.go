package tracing

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	KeyProvider = tag.MustNewKey("provider")
	KeyOutcome  = tag.MustNewKey("outcome")
)

var (
	MeasureAttempts       = stats.Int64("dispatch/attempts", "Send attempts", stats.UnitDimensionless)
	MeasureAttemptLatency = stats.Float64("dispatch/attempt_latency", "Latency of one send attempt", stats.UnitMilliseconds)
	MeasureAdmissionWait  = stats.Float64("dispatch/admission_wait", "Time spent waiting for rate limiter admission", stats.UnitMilliseconds)
	MeasureBatchMessages  = stats.Int64("dispatch/batch_messages", "Messages reaching a terminal state", stats.UnitDimensionless)
)

// latencyDistribution covers sub-second sends up to full-minute window waits
var latencyDistribution = view.Distribution(10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000)

var (
	AttemptCountView = &view.View{
		Name:        "dispatch/attempt_count",
		Measure:     MeasureAttempts,
		Description: "Number of send attempts by provider and outcome",
		TagKeys:     []tag.Key{KeyProvider, KeyOutcome},
		Aggregation: view.Count(),
	}
	AttemptLatencyView = &view.View{
		Name:        "dispatch/attempt_latency",
		Measure:     MeasureAttemptLatency,
		Description: "Distribution of send attempt latency by provider",
		TagKeys:     []tag.Key{KeyProvider},
		Aggregation: latencyDistribution,
	}
	AdmissionWaitView = &view.View{
		Name:        "dispatch/admission_wait",
		Measure:     MeasureAdmissionWait,
		Description: "Distribution of rate limiter admission waits by provider",
		TagKeys:     []tag.Key{KeyProvider},
		Aggregation: latencyDistribution,
	}
	BatchMessagesView = &view.View{
		Name:        "dispatch/batch_messages",
		Measure:     MeasureBatchMessages,
		Description: "Terminal message outcomes by status",
		TagKeys:     []tag.Key{KeyOutcome},
		Aggregation: view.Sum(),
	}

	// DeliveryViews are registered by InitTracing
	DeliveryViews = []*view.View{AttemptCountView, AttemptLatencyView, AdmissionWaitView, BatchMessagesView}
)

// RecordAttempt records one send attempt for a provider
func RecordAttempt(ctx context.Context, provider, outcome string, latency time.Duration) {
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyProvider, provider), tag.Upsert(KeyOutcome, outcome)},
		MeasureAttempts.M(1),
	)
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyProvider, provider)},
		MeasureAttemptLatency.M(milliseconds(latency)),
	)
}

// RecordAdmissionWait records how long an attempt waited for its rate limiter
func RecordAdmissionWait(ctx context.Context, provider string, wait time.Duration) {
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyProvider, provider)},
		MeasureAdmissionWait.M(milliseconds(wait)),
	)
}

// RecordBatchOutcome records n messages of a batch reaching the given terminal status
func RecordBatchOutcome(ctx context.Context, status string, n int) {
	if n <= 0 {
		return
	}
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyOutcome, status)},
		MeasureBatchMessages.M(int64(n)),
	)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
