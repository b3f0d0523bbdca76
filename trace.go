package relpipe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/baolean/relpipe"

// TracingMiddleware returns run middleware that wraps each run in a span
// carrying the run's identity. If tracer is nil the globally registered
// tracer provider is used.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return func(next RunnerFunc) RunnerFunc {
		return func(ctx context.Context, run *PipelineRun, logger Logger) error {
			ctx, span := tracer.Start(ctx, "pipeline.run",
				trace.WithAttributes(
					attribute.String("pipeline.name", run.Pipeline.Name),
					attribute.String("run.id", run.ID),
					attribute.String("run.commit_ref", run.CommitRef),
					attribute.String("run.group_key", run.GroupKey),
				))
			defer span.End()

			err := next(ctx, run, logger)

			span.SetAttributes(attribute.String("run.status", string(run.Status())))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}

// StageTracingMiddleware returns stage middleware that wraps each stage in
// a child span.
func StageTracingMiddleware(tracer trace.Tracer) StageMiddleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return func(next StageRunnerFunc) StageRunnerFunc {
		return func(ctx context.Context, run *PipelineRun, stage *StageState, logger Logger) error {
			ctx, span := tracer.Start(ctx, "pipeline.stage",
				trace.WithAttributes(
					attribute.String("stage.name", stage.Stage.Name),
					attribute.StringSlice("stage.variants", stage.Stage.Matrix.Variants),
				))
			defer span.End()

			err := next(ctx, run, stage, logger)

			span.SetAttributes(attribute.String("stage.status", string(stage.Status())))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
