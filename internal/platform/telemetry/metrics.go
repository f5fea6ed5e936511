// Package telemetry adapts the injected metrics collaborator onto
// OpenTelemetry. Services depend on their own small Metrics interface; this
// is the one production implementation behind all of them.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	mu       sync.Mutex
	meter    metric.Meter
	counters map[string]metric.Int64Counter
	logger   *slog.Logger
}

func NewMetrics(serviceName string, logger *slog.Logger) *Metrics {
	return &Metrics{
		meter:    otel.Meter(serviceName),
		counters: make(map[string]metric.Int64Counter),
		logger:   logger,
	}
}

// Add increments the named counter. Instrument creation failures are logged
// and swallowed; metrics must never fail a mutation.
func (m *Metrics) Add(ctx context.Context, counter string, delta int64, attrs map[string]string) {
	instrument, err := m.counter(counter)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("counter instrument creation failed",
				"event", "telemetry_counter_failed",
				"module", "internal/platform/telemetry",
				"layer", "platform",
				"counter", counter,
				"error", err.Error(),
			)
		}
		return
	}

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}
	instrument.Add(ctx, delta, metric.WithAttributes(kvs...))
}

func (m *Metrics) counter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if instrument, ok := m.counters[name]; ok {
		return instrument, nil
	}
	instrument, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = instrument
	return instrument, nil
}
