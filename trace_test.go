package relpipe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, provider
}

func spanAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddlewareRecordsRunSpan(t *testing.T) {
	recorder, provider := newTestTracer()
	tracer := provider.Tracer("test")

	executor := newScriptedExecutor()
	scheduler := NewScheduler(
		WithExecutor(executor),
		WithMiddleware(TracingMiddleware(tracer)),
		WithStageMiddleware(StageTracingMiddleware(tracer)),
	)

	run := releasePipeline().NewRun("abc123")
	require.NoError(t, scheduler.Execute(context.Background(), run, &TestLogger{t: t}))

	spans := recorder.Ended()
	require.Len(t, spans, len(run.Pipeline.Stages)+1)

	// Stage spans end before the run span.
	runSpan := spans[len(spans)-1]
	assert.Equal(t, "pipeline.run", runSpan.Name())
	assert.Equal(t, codes.Ok, runSpan.Status().Code)

	name, ok := spanAttribute(runSpan, "pipeline.name")
	require.True(t, ok)
	assert.Equal(t, "release", name.AsString())

	runID, ok := spanAttribute(runSpan, "run.id")
	require.True(t, ok)
	assert.Equal(t, run.ID, runID.AsString())

	status, ok := spanAttribute(runSpan, "run.status")
	require.True(t, ok)
	assert.Equal(t, string(StatusSucceeded), status.AsString())

	for _, span := range spans[:len(spans)-1] {
		assert.Equal(t, "pipeline.stage", span.Name())
		assert.Equal(t, runSpan.SpanContext().TraceID(), span.SpanContext().TraceID())
	}
}

func TestTracingMiddlewareRecordsFailure(t *testing.T) {
	recorder, provider := newTestTracer()
	tracer := provider.Tracer("test")

	executor := newScriptedExecutor()
	executor.failStep("arm-macos", "push-cache", 2)
	scheduler := NewScheduler(
		WithExecutor(executor),
		WithMiddleware(TracingMiddleware(tracer)),
		WithStageMiddleware(StageTracingMiddleware(tracer)),
	)

	run := releasePipeline().NewRun("abc123")
	require.Error(t, scheduler.Execute(context.Background(), run, &TestLogger{t: t}))

	spans := recorder.Ended()
	// Only the failing stage span plus the run span.
	require.Len(t, spans, 2)

	stageSpan := spans[0]
	assert.Equal(t, "pipeline.stage", stageSpan.Name())
	assert.Equal(t, codes.Error, stageSpan.Status().Code)

	stageStatus, ok := spanAttribute(stageSpan, "stage.status")
	require.True(t, ok)
	assert.Equal(t, string(StatusFailed), stageStatus.AsString())

	runSpan := spans[1]
	assert.Equal(t, codes.Error, runSpan.Status().Code)
	require.NotEmpty(t, runSpan.Events())
	assert.Equal(t, "exception", runSpan.Events()[0].Name)
}
