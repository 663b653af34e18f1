package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-translate/pipeline"

type instruments struct {
	requests  metric.Int64Counter
	languages metric.Int64Counter
	stageTime metric.Float64Histogram
	artifacts metric.Int64Counter
}

func newInstruments(log *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	var ins instruments
	var err error
	if ins.requests, err = meter.Int64Counter("loqa.pipeline.requests",
		metric.WithDescription("Pipeline requests by terminal state and error kind")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.pipeline.requests"), slogError(err))
	}
	if ins.languages, err = meter.Int64Counter("loqa.pipeline.language_outcomes",
		metric.WithDescription("Per-language outcomes by stage and status")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.pipeline.language_outcomes"), slogError(err))
	}
	if ins.stageTime, err = meter.Float64Histogram("loqa.pipeline.stage.duration",
		metric.WithDescription("Stage latency"), metric.WithUnit("ms")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.pipeline.stage.duration"), slogError(err))
	}
	if ins.artifacts, err = meter.Int64Counter("loqa.pipeline.artifacts_stored",
		metric.WithDescription("Synthesized audio artifacts written to the store")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.pipeline.artifacts_stored"), slogError(err))
	}
	return ins
}

func (ins instruments) request(ctx context.Context, state State, kind ErrorKind) {
	if ins.requests == nil {
		return
	}
	ins.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("kind", string(kind))))
}

func (ins instruments) language(ctx context.Context, stage Stage, status string) {
	if ins.languages == nil {
		return
	}
	ins.languages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", status)))
}

func (ins instruments) stage(ctx context.Context, stage Stage, elapsed time.Duration, status StageStatus) {
	if ins.stageTime == nil {
		return
	}
	ins.stageTime.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", string(status))))
}

func (ins instruments) artifact(ctx context.Context, language string) {
	if ins.artifacts == nil {
		return
	}
	ins.artifacts.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
