// Package metrics exposes Prometheus collectors for data object traffic and
// analytic execution.
//
//	timer := metrics.NewTimer()
//	runChunk(plan)
//	metrics.ChunkDuration.WithLabelValues("math-transform").Observe(timer.Stop().Seconds())
//
// All collectors register with the default registry on package load and are
// served by Handler.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// DataObjectsOpen tracks the number of data objects held by managers.
	DataObjectsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ace_data_objects_open",
			Help: "Number of data objects currently open",
		},
	)

	// DataObjectOpens counts object opens by outcome.
	// Labels: result (success/failure)
	DataObjectOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ace_data_object_opens_total",
			Help: "Total number of data object opens",
		},
		[]string{"result"},
	)

	// MetadataWrites counts atomic header rewrites.
	MetadataWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ace_metadata_writes_total",
			Help: "Total number of metadata writes",
		},
		[]string{"result"},
	)

	// BlocksExecuted counts work blocks executed.
	// Labels: analytic, role (single/chunk/worker)
	BlocksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ace_blocks_executed_total",
			Help: "Total number of work blocks executed",
		},
		[]string{"analytic", "role"},
	)

	// ChunkDuration tracks chunk run wall time in seconds.
	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ace_chunk_duration_seconds",
			Help:    "Chunk run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"analytic"},
	)

	// Merges counts merge attempts by outcome.
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ace_merges_total",
			Help: "Total number of chunk merges",
		},
		[]string{"result"},
	)

	// ProgressPercent is the last reported progress of a running analytic.
	ProgressPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ace_progress_percent",
			Help: "Percent of work blocks processed",
		},
		[]string{"analytic"},
	)
)

// Result maps an error to a result label value.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes Handler on addr until ctx is done. It returns the bound
// address so callers may pass ":0".
func Serve(ctx context.Context, addr string, log *zap.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}
