package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKlogTracer(t *testing.T) {
	tracer := NewKlogTracer()

	span, err := tracer.StartSpan("execute forward")
	require.NoError(t, err)
	require.NotEmpty(t, span)
	require.NoError(t, tracer.EndSpan(span))

	// Ending an unknown or already ended span fails.
	require.Error(t, tracer.EndSpan(span))
	require.Error(t, tracer.EndSpan("bogus"))

	tracer.Logf("event %d", 1)
}

func TestKlogTracerDistinctSpans(t *testing.T) {
	tracer := NewKlogTracer()
	a, err := tracer.StartSpan("a")
	require.NoError(t, err)
	b, err := tracer.StartSpan("b")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NoError(t, tracer.EndSpan(b))
	require.NoError(t, tracer.EndSpan(a))
}
