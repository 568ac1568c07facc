package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hearken"

// DecisionSpanName names the span wrapping one detection decision.
const DecisionSpanName = "recognizer.decide"

// Span attribute keys for decision spans.
const (
	AttrFrames = attribute.Key("hearken.frames")
	AttrKind   = attribute.Key("hearken.decision.kind")
	AttrLabel  = attribute.Key("hearken.decision.label")
	AttrScore  = attribute.Key("hearken.decision.score")
)

// StartDecision starts the span for one detection decision over a snapshot
// of frames spectral frames. Finish it with [EndDecision].
func StartDecision(ctx context.Context, frames int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, DecisionSpanName,
		trace.WithAttributes(AttrFrames.Int(frames)),
	)
}

// EndDecision records the outcome on span and ends it. A failed decision is
// marked as an error; an emitted one carries its kind, label and score. A
// decision that emitted nothing only gets its kind.
func EndDecision(span trace.Span, kind, label string, score float64, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(AttrKind.String(kind))
	if label != "" {
		span.SetAttributes(AttrLabel.String(label), AttrScore.Float64(score))
	}
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id from the span
// in ctx, so decision logs can be joined with their spans.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
