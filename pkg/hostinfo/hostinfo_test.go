package hostinfo

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	s := Collect(context.Background())
	assert.Equal(t, runtime.GOOS, s.OS)
	assert.Equal(t, runtime.Version(), s.GoVersion)
	assert.Positive(t, s.LogicalCores)
	assert.GreaterOrEqual(t, s.Threads(), 1)
}

func TestThreadsFallback(t *testing.T) {
	assert.Equal(t, 1, Snapshot{}.Threads())
	assert.Equal(t, 8, Snapshot{LogicalCores: 8}.Threads())
}
