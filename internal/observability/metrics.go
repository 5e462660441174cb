package observability

import "sync"

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}

// StreamMetricsSnapshot captures feed-focused runtime counters.
type StreamMetricsSnapshot struct {
	FramesProcessed map[string]int64 `json:"frames_processed"`
	SequenceGaps    map[string]int64 `json:"sequence_gaps"`
	StaleDrops      map[string]int64 `json:"stale_drops"`
	Resubscriptions int64            `json:"resubscriptions"`
	Warnings        int64            `json:"warnings"`
}

// RuntimeMetrics accumulates feed metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu     sync.Mutex
	stream StreamMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.stream = StreamMetricsSnapshot{
		FramesProcessed: make(map[string]int64),
		SequenceGaps:    make(map[string]int64),
		StaleDrops:      make(map[string]int64),
	}
	return metrics
}

// RecordFrame counts a processed inbound frame for a channel.
func (m *RuntimeMetrics) RecordFrame(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream.FramesProcessed[channel]++
}

// RecordSequenceGap counts a detected sequence gap for a channel.
func (m *RuntimeMetrics) RecordSequenceGap(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream.SequenceGaps[channel]++
}

// RecordStaleDrop counts a dropped stale or duplicate message for a channel.
func (m *RuntimeMetrics) RecordStaleDrop(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream.StaleDrops[channel]++
}

// RecordResubscription counts a subscription task restart.
func (m *RuntimeMetrics) RecordResubscription() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream.Resubscriptions++
}

// RecordWarning counts a non-fatal warning surfaced to the host.
func (m *RuntimeMetrics) RecordWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream.Warnings++
}

// Snapshot copies the current stream metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() StreamMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := StreamMetricsSnapshot{
		FramesProcessed: make(map[string]int64, len(m.stream.FramesProcessed)),
		SequenceGaps:    make(map[string]int64, len(m.stream.SequenceGaps)),
		StaleDrops:      make(map[string]int64, len(m.stream.StaleDrops)),
		Resubscriptions: m.stream.Resubscriptions,
		Warnings:        m.stream.Warnings,
	}
	for k, v := range m.stream.FramesProcessed {
		snapshot.FramesProcessed[k] = v
	}
	for k, v := range m.stream.SequenceGaps {
		snapshot.SequenceGaps[k] = v
	}
	for k, v := range m.stream.StaleDrops {
		snapshot.StaleDrops[k] = v
	}
	return snapshot
}
