package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTrace_Disabled(t *testing.T) {
	shutdown, err := InitTrace("deposit-test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTrace_Stdout(t *testing.T) {
	shutdown, err := InitTrace("deposit-test", EndpointStdout)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "scan-pass")
	assert.True(t, span.SpanContext().HasTraceID())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
