package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpansWithoutInitAreNoop(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	EndSpan(span, nil)
}

func TestInitExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Writer = &buf

	shutdown, err := Init(cfg)
	require.NoError(t, err)

	ctx, parent := StartSpan(context.Background(), "engine.merge", attribute.Int("chunks", 3))
	_, child := StartSpan(ctx, "engine.validate")
	EndSpan(child, errors.New("missing chunk"))
	EndSpan(parent, nil)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "engine.merge")
	assert.Contains(t, out, "engine.validate")
	assert.Contains(t, out, "missing chunk")

	// second shutdown is a no-op
	require.NoError(t, Shutdown(context.Background()))
}
