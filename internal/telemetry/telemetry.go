// Package telemetry instruments sync cycles with OpenTelemetry.
//
// Only the OpenTelemetry API is linked in. Until a process installs an SDK
// provider every tracer and meter here is a no-op, so nothing leaves the
// machine unless the user opts in.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "stashsync/sync"

// Tracer returns the sync tracer from tp, or from the global provider when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// StartSpan starts an internal span tagged with the sync family.
func StartSpan(ctx context.Context, tracer trace.Tracer, name, family string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("sync.family", family)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SyncMetrics holds the counters reported for every cycle.
type SyncMetrics struct {
	cycles  metric.Int64Counter
	records metric.Int64Counter
	errors  metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments on mp, or on the global provider when mp is nil.
func NewSyncMetrics(mp metric.MeterProvider) (*SyncMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	cycles, err := meter.Int64Counter(
		"stashsync.sync.cycles",
		metric.WithDescription("Completed sync cycles"),
		metric.WithUnit("{cycles}"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"stashsync.sync.records",
		metric.WithDescription("Records applied locally or pushed to the remote"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"stashsync.sync.errors",
		metric.WithDescription("Errors collected during sync cycles"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{cycles: cycles, records: records, errors: errs}, nil
}

// RecordCycle counts one finished cycle.
func (m *SyncMetrics) RecordCycle(ctx context.Context, family string, success bool) {
	m.cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sync.family", family),
		attribute.Bool("sync.success", success),
	))
}

// RecordRecords counts n records with the given outcome (created, updated, deleted, skipped).
func (m *SyncMetrics) RecordRecords(ctx context.Context, family, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.records.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("sync.family", family),
		attribute.String("outcome", outcome),
	))
}

// RecordErrors counts n errors raised in phase (pull or push).
func (m *SyncMetrics) RecordErrors(ctx context.Context, family, phase string, n int) {
	if n <= 0 {
		return
	}
	m.errors.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("sync.family", family),
		attribute.String("sync.phase", phase),
	))
}
