// Package tracing provides OpenTelemetry distributed tracing setup and utilities.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartStoreSpan creates a new span for a remote document store read.
// Returns the new context and a function to end the span.
//
// Example usage:
//
//	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "fetch_range")
//	defer endSpan(err)
func StartStoreSpan(ctx context.Context, collection, operation string) (context.Context, func(error)) {
	tracer := otel.Tracer("placefeed/store")

	spanName := operation
	if collection != "" {
		spanName = operation + " " + collection
	}

	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
		),
	)
	if collection != "" {
		span.SetAttributes(attribute.String("db.sql.table", collection))
	}

	return ctx, endFunc(span)
}

// StartClientSpan creates a new span for an outbound collaborator call
// (geocoding, location provider).
func StartClientSpan(ctx context.Context, operation, peer string) (context.Context, func(error)) {
	tracer := otel.Tracer("placefeed/client")

	ctx, span := tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("peer.service", peer)),
	)

	return ctx, endFunc(span)
}

// StartSpan creates a new span for a general engine operation.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	tracer := otel.Tracer("placefeed")
	ctx, span := tracer.Start(ctx, name)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
