package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/harperreed/fleetbook/ledger"

// telemetry holds the syncer's OpenTelemetry instruments. Without a
// configured provider the global no-op implementations are used.
type telemetry struct {
	tracer        trace.Tracer
	refreshTotal  metric.Int64Counter
	fetchFailures metric.Int64Counter
	writeTotal    metric.Int64Counter
	refreshDur    metric.Float64Histogram
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	var err error
	if t.refreshTotal, err = meter.Int64Counter("fleetbook.refresh.total",
		metric.WithDescription("Refresh attempts by outcome")); err != nil {
		return nil, err
	}
	if t.fetchFailures, err = meter.Int64Counter("fleetbook.fetch.failures",
		metric.WithDescription("Per-collection fetch failures during refresh")); err != nil {
		return nil, err
	}
	if t.writeTotal, err = meter.Int64Counter("fleetbook.write.total",
		metric.WithDescription("Write intents by operation and outcome")); err != nil {
		return nil, err
	}
	if t.refreshDur, err = meter.Float64Histogram("fleetbook.refresh.duration",
		metric.WithDescription("Refresh wall time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *telemetry) refreshed(ctx context.Context, status RefreshStatus, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	t.refreshTotal.Add(ctx, 1, attrs)
	t.refreshDur.Record(ctx, elapsed.Seconds(), attrs)
}

func (t *telemetry) fetchFailed(ctx context.Context, c Collection) {
	t.fetchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", string(c))))
}

func (t *telemetry) wrote(ctx context.Context, op Op, outcome string) {
	t.writeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", string(op)),
		attribute.String("outcome", outcome),
	))
}
