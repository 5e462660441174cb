package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"

	"github.com/halcyonlabs/marketsync/internal/observability"
)

// Bridge adapts an OpenTelemetry meter to the observability.Metrics interface
// so runtime components record metrics without importing the SDK.
type Bridge struct {
	meter apimetric.Meter

	mu       sync.Mutex
	counters map[string]apimetric.Float64Counter
	gauges   map[string]apimetric.Float64Gauge
}

// NewBridge constructs a bridge over the given meter provider.
func NewBridge(provider apimetric.MeterProvider) *Bridge {
	return &Bridge{
		meter:    provider.Meter("github.com/halcyonlabs/marketsync"),
		counters: make(map[string]apimetric.Float64Counter),
		gauges:   make(map[string]apimetric.Float64Gauge),
	}
}

// IncCounter adds value to the named counter with the given labels.
func (b *Bridge) IncCounter(name string, value float64, labels map[string]string) {
	counter, err := b.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, apimetric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records the current value of the named gauge.
func (b *Bridge) SetGauge(name string, value float64, labels map[string]string) {
	gauge, err := b.gauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value, apimetric.WithAttributes(toAttributes(labels)...))
}

func (b *Bridge) counter(name string) (apimetric.Float64Counter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if counter, ok := b.counters[name]; ok {
		return counter, nil
	}
	counter, err := b.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	b.counters[name] = counter
	return counter, nil
}

func (b *Bridge) gauge(name string) (apimetric.Float64Gauge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gauge, ok := b.gauges[name]; ok {
		return gauge, nil
	}
	gauge, err := b.meter.Float64Gauge(name)
	if err != nil {
		return nil, err
	}
	b.gauges[name] = gauge
	return gauge, nil
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		out = append(out, attribute.String(key, value))
	}
	return out
}

var _ observability.Metrics = (*Bridge)(nil)
