package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestEnrichAddsRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := context.WithValue(context.Background(), RunIDKey, "abc")
	ctx = context.WithValue(ctx, AnalyticKey, "math-transform")
	ctx = context.WithValue(ctx, ChunkKey, 3)

	Enrich(ctx, zap.New(core)).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc", fields["run_id"])
	assert.Equal(t, "math-transform", fields["analytic"])
	assert.Equal(t, int64(3), fields["chunk_index"])
	assert.NotContains(t, fields, "rank")
}

func TestWithContextUsesGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ace.log")
	require.NoError(t, Init(Config{Level: "info", OutputPaths: []string{path}}))
	t.Cleanup(func() { _ = Init(Config{Level: "info"}) })

	ctx := context.WithValue(context.Background(), RankKey, 2)
	WithContext(ctx).Info("worker connected")
	_ = Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"worker connected"`)
	assert.Contains(t, string(raw), `"rank":2`)
}
