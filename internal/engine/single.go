package engine

import (
	"context"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/SystemsGenetics/ACE-sub002/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RunSingle binds job with its outputs, executes every block, processes
// results in order and finishes the outputs.
func (e *Engine) RunSingle(ctx context.Context, job Job) (err error) {
	ctx, runID, log := e.begin(ctx, job)
	ctx, span := observability.StartSpan(ctx, "engine.single", attribute.String("analytic", job.Analytic))
	defer func() { observability.EndSpan(span, err) }()

	b, err := e.bind(job, runID, liveOutputs, log)
	if err != nil {
		return err
	}
	defer b.close()

	total := b.a.Size()
	log.Info("run started", zap.Int("blocks", total))
	blocks := metrics.BlocksExecuted.WithLabelValues(job.Analytic, RoleSingle)

	done := 0
	err = runBlocks(ctx, b.a, 0, total, e.cfg.Execution.Threads, func(r analytic.Block) error {
		if err := b.a.Process(r); err != nil {
			return err
		}
		blocks.Inc()
		done++
		e.report(job, done, total)
		return nil
	})
	if err != nil {
		return err
	}
	if err := b.finish(); err != nil {
		return err
	}
	log.Info("run finished", zap.Int("blocks", done))
	return nil
}
