package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultFailure, Result(errors.New("boom")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(Merges.WithLabelValues(ResultFailure))
	Merges.WithLabelValues(Result(errors.New("missing"))).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Merges.WithLabelValues(ResultFailure)))
}

func TestServeExposesCollectors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ProgressPercent.WithLabelValues("unit-test").Set(42)

	addr, err := Serve(ctx, "127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `ace_progress_percent{analytic="unit-test"} 42`)
}
