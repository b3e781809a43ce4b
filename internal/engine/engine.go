// Package engine executes analytics: in one process, as independent chunks
// later merged in index order, or split between a coordinator and workers.
package engine

import (
	"context"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/compression"
	"github.com/SystemsGenetics/ACE-sub002/pkg/config"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is stamped into the system metadata of every output.
var Version = "dev"

// Role labels block metrics.
const (
	RoleSingle      = "single"
	RoleChunk       = "chunk"
	RoleMerge       = "merge"
	RoleCoordinator = "coordinator"
	RoleWorker      = "worker"
)

// Job is one analytic invocation.
type Job struct {
	Analytic string
	Args     *analytic.Arguments
}

// Fingerprint identifies the job across chunks and participants.
func (j Job) Fingerprint() (analytic.Fingerprint, error) {
	return j.Args.Fingerprint(j.Analytic)
}

// Engine runs jobs against one data manager.
type Engine struct {
	manager   *data.Manager
	analytics *analytic.Registry
	cfg       *config.Config
	log       *zap.Logger
	reporter  *progress.Reporter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithReporter sends progress updates to r.
func WithReporter(r *progress.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// New returns an engine. A nil cfg means config.Default.
func New(manager *data.Manager, analytics *analytic.Registry, cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{manager: manager, analytics: analytics, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Named("engine")
	}
	return e
}

// Config returns the engine settings.
func (e *Engine) Config() *config.Config { return e.cfg }

// NewJob validates raw argument text for the analytic name.
func (e *Engine) NewJob(name string, raw map[string]string) (Job, error) {
	a, err := e.analytics.Create(name)
	if err != nil {
		return Job{}, err
	}
	args, err := analytic.Parse(a.Inputs(), raw)
	if err != nil {
		return Job{}, err
	}
	return Job{Analytic: name, Args: args}, nil
}

// Run executes job in this process.
func (e *Engine) Run(ctx context.Context, job Job) error {
	return e.RunSingle(ctx, job)
}

// begin tags ctx with a fresh run id and the analytic name and returns the
// matching logger.
func (e *Engine) begin(ctx context.Context, job Job) (context.Context, string, *zap.Logger) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.AnalyticKey, job.Analytic)
	return ctx, runID, logger.Enrich(ctx, e.log)
}

func (e *Engine) report(job Job, done, total int) {
	e.reporter.Report(progress.Update{Analytic: job.Analytic, Done: done, Total: total})
}

func newCodec(name string) (compression.Compressor, error) {
	alg, err := compression.ParseAlgorithm(name)
	if err != nil {
		return nil, err
	}
	return compression.NewCompressor(&compression.Config{Algorithm: alg, Level: compression.Default})
}
