package apm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/fd1az/pool-pricer/internal/logger"
)

func TestNewTraceProvider_EmptyIsNoop(t *testing.T) {
	tp, err := NewTraceProvider(logger.NewDiscard(), Settings{Provider: EmptyProvider})
	require.NoError(t, err)
	assert.NoError(t, tp.Stop())
}

func TestNewTraceProvider_UnknownProvider(t *testing.T) {
	_, err := NewTraceProvider(logger.NewDiscard(), Settings{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewTraceProvider_ConsoleRecordsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tp, err := NewTraceProvider(logger.NewDiscard(), Settings{Provider: ConsoleProvider, ServiceName: "pool-pricer"})
	require.NoError(t, err)

	_, span := otel.Tracer("apm-test").Start(context.Background(), "refresh")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tp.Stop())
}
