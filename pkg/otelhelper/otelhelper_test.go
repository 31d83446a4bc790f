package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetErrorAndOutcome(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "processor.handle", attribute.String(JobIDKey, "wamid.1"))
	SetOutcome(span, "retry")
	SetError(span, errors.New("upstream timeout"))
	span.End()

	_, clean := StartSpan(context.Background(), tracer, "processor.handle")
	SetError(clean, nil)
	clean.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "upstream timeout", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(JobOutcomeKey, "retry"))
	assert.Contains(t, spans[0].Attributes(), attribute.String(JobIDKey, "wamid.1"))

	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Empty(t, spans[1].Events())
}

func TestNewNoopTracer(t *testing.T) {
	t.Parallel()

	_, span := StartSpan(context.Background(), NewNoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}
