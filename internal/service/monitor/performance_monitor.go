package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// Advisory thresholds
const (
	MinGlobalSuccessRate   = 95.0
	MaxGlobalAvgLatencyMs  = 30000.0
	MinProviderSuccessRate = 90.0
)

// ProviderMetrics aggregates the attempts made against one provider identity
type ProviderMetrics struct {
	Sent         int64   `json:"sent"`
	Failed       int64   `json:"failed"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Attempts returns the number of recorded attempts
func (m ProviderMetrics) Attempts() int64 {
	return m.Sent + m.Failed
}

// SuccessRate returns the share of successful attempts as a percentage
func (m ProviderMetrics) SuccessRate() float64 {
	if m.Attempts() == 0 {
		return 0
	}
	return float64(m.Sent) / float64(m.Attempts()) * 100
}

// Snapshot is a point-in-time copy of the monitor counters
type Snapshot struct {
	TotalSent    int64                      `json:"total_sent"`
	TotalFailed  int64                      `json:"total_failed"`
	SuccessRate  float64                    `json:"success_rate"`
	AvgLatencyMs float64                    `json:"avg_latency_ms"`
	Providers    map[string]ProviderMetrics `json:"providers"`
}

// Delta returns the attempts recorded between before and s
func (s Snapshot) Delta(before Snapshot) domain.MonitorDelta {
	return domain.MonitorDelta{
		AttemptsSucceeded: s.TotalSent - before.TotalSent,
		AttemptsFailed:    s.TotalFailed - before.TotalFailed,
	}
}

// PerformanceMonitor aggregates send attempt outcomes globally and per provider.
// It only observes: nothing it computes feeds back into admission or retries.
type PerformanceMonitor struct {
	logger logger.Logger

	mu           sync.Mutex
	totalSent    int64
	totalFailed  int64
	avgLatencyMs float64
	providers    map[string]*ProviderMetrics
}

// NewPerformanceMonitor creates an empty monitor
func NewPerformanceMonitor(log logger.Logger) *PerformanceMonitor {
	return &PerformanceMonitor{
		logger:    log,
		providers: make(map[string]*ProviderMetrics),
	}
}

// RecordSuccess records a successful attempt
func (m *PerformanceMonitor) RecordSuccess(provider string, latency time.Duration) {
	m.record(provider, latency, true)
}

// RecordFailure records a failed attempt
func (m *PerformanceMonitor) RecordFailure(provider string, latency time.Duration) {
	m.record(provider, latency, false)
}

func (m *PerformanceMonitor) record(provider string, latency time.Duration, success bool) {
	sample := float64(latency) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.providers[provider]
	if !ok {
		stats = &ProviderMetrics{}
		m.providers[provider] = stats
	}

	if success {
		m.totalSent++
		stats.Sent++
	} else {
		m.totalFailed++
		stats.Failed++
	}

	// avg' = (avg*(n-1) + sample)/n
	n := float64(stats.Attempts())
	stats.AvgLatencyMs = (stats.AvgLatencyMs*(n-1) + sample) / n

	total := float64(m.totalSent + m.totalFailed)
	m.avgLatencyMs = (m.avgLatencyMs*(total-1) + sample) / total
}

// Snapshot returns a copy of the current counters
func (m *PerformanceMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *PerformanceMonitor) snapshotLocked() Snapshot {
	s := Snapshot{
		TotalSent:    m.totalSent,
		TotalFailed:  m.totalFailed,
		AvgLatencyMs: m.avgLatencyMs,
		Providers:    make(map[string]ProviderMetrics, len(m.providers)),
	}
	if total := m.totalSent + m.totalFailed; total > 0 {
		s.SuccessRate = float64(m.totalSent) / float64(total) * 100
	}
	for provider, stats := range m.providers {
		s.Providers[provider] = *stats
	}
	return s
}

// Recommendations returns advisories derived from the current counters.
// Nothing is advised before the first attempt.
func (m *PerformanceMonitor) Recommendations() []string {
	return recommendationsFor(m.Snapshot())
}

func recommendationsFor(s Snapshot) []string {
	var out []string
	if s.TotalSent+s.TotalFailed == 0 {
		return out
	}

	if s.SuccessRate < MinGlobalSuccessRate {
		out = append(out, fmt.Sprintf("Success rate is low (%.1f%%), consider increasing the delay between sends", s.SuccessRate))
	}
	if s.AvgLatencyMs > MaxGlobalAvgLatencyMs {
		out = append(out, fmt.Sprintf("Average send latency is high (%.0fms), check the send timeout settings", s.AvgLatencyMs))
	}

	providers := make([]string, 0, len(s.Providers))
	for provider := range s.Providers {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		stats := s.Providers[provider]
		if stats.Attempts() > 0 && stats.SuccessRate() < MinProviderSuccessRate {
			out = append(out, fmt.Sprintf("Provider %s has a low success rate (%.1f%%), consider increasing its delays", provider, stats.SuccessRate()))
		}
	}
	return out
}

// LogSummary writes the counters and any recommendation to the logger
func (m *PerformanceMonitor) LogSummary() {
	s := m.Snapshot()
	m.logger.WithFields(map[string]interface{}{
		"total_sent":     s.TotalSent,
		"total_failed":   s.TotalFailed,
		"success_rate":   s.SuccessRate,
		"avg_latency_ms": s.AvgLatencyMs,
		"providers":      len(s.Providers),
	}).Info("Delivery performance summary")

	for _, rec := range recommendationsFor(s) {
		m.logger.WithField("recommendation", rec).Warn("Delivery performance recommendation")
	}
}

// Reset clears every counter
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSent = 0
	m.totalFailed = 0
	m.avgLatencyMs = 0
	m.providers = make(map[string]*ProviderMetrics)
}
