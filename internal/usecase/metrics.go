package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"unison-context/internal/domain"
)

const meterName = "unison-context/usecase"

type storeMetrics struct {
	operations otelmetric.Int64Counter
	integrity  otelmetric.Int64Counter
	duration   otelmetric.Float64Histogram
}

func newStoreMetrics(mp otelmetric.MeterProvider) (*storeMetrics, error) {
	meter := mp.Meter(meterName)

	operations, err := meter.Int64Counter("unison_context.operations",
		otelmetric.WithDescription("Record store operations by kind, operation and outcome."))
	if err != nil {
		return nil, err
	}
	integrity, err := meter.Int64Counter("unison_context.data_integrity_errors",
		otelmetric.WithDescription("Stored records that failed to decode or verify."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("unison_context.operation.duration",
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &storeMetrics{operations: operations, integrity: integrity, duration: duration}, nil
}

func (m *storeMetrics) record(ctx context.Context, kind domain.Kind, op domain.Operation, start time.Time, err error) {
	outcome := "ok"
	if e, ok := asError(err); ok {
		outcome = string(e.Code)
	} else if err != nil {
		outcome = string(ErrorInternal)
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("operation", string(op)),
		attribute.String("outcome", outcome),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if outcome == string(ErrorDataIntegrity) {
		m.integrity.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", string(kind))))
	}
}
