package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records tracking core metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEvent records an inbound event and whether a handler claimed it.
	RecordEvent(ctx context.Context, kind string, handled bool)

	// RecordHit records a hit accepted by a backend.
	RecordHit(ctx context.Context, backend, hitType string)

	// RecordCorrelation records a correlation outcome
	// (session_id, null_session, error, rejected, abandoned).
	RecordCorrelation(ctx context.Context, outcome string)

	// RecordDispatch records a backend dispatch with its duration and error status.
	RecordDispatch(ctx context.Context, backend string, duration time.Duration, err error)
}

type otelMetrics struct {
	events          metric.Int64Counter
	hits            metric.Int64Counter
	correlations    metric.Int64Counter
	dispatches      metric.Int64Counter
	dispatchErrors  metric.Int64Counter
	dispatchLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("mediatrack")

	events, err := meter.Int64Counter("mediatrack.events",
		metric.WithDescription("Number of inbound events"),
	)
	if err != nil {
		return nil, err
	}

	hits, err := meter.Int64Counter("mediatrack.hits",
		metric.WithDescription("Number of hits accepted by backends"),
	)
	if err != nil {
		return nil, err
	}

	correlations, err := meter.Int64Counter("mediatrack.correlations",
		metric.WithDescription("Number of correlation outcomes"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter("mediatrack.dispatches",
		metric.WithDescription("Number of backend dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("mediatrack.dispatch.errors",
		metric.WithDescription("Number of failed backend dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("mediatrack.dispatch.latency_ms",
		metric.WithDescription("Backend dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		events:          events,
		hits:            hits,
		correlations:    correlations,
		dispatches:      dispatches,
		dispatchErrors:  dispatchErrors,
		dispatchLatency: dispatchLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEvent records an inbound event.
func (m *otelMetrics) RecordEvent(ctx context.Context, kind string, handled bool) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("handled", handled),
	))
}

// RecordHit records an accepted hit.
func (m *otelMetrics) RecordHit(ctx context.Context, backend, hitType string) {
	m.hits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("hit_type", hitType),
	))
}

// RecordCorrelation records a correlation outcome.
func (m *otelMetrics) RecordCorrelation(ctx context.Context, outcome string) {
	m.correlations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordDispatch records a backend dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, backend string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))

	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}
