package engine

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/internal/cluster"
	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/compression"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/hostinfo"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/SystemsGenetics/ACE-sub002/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const terminateTimeout = 10 * time.Second

// Gather accepts n worker connections on ln within the configured accept
// timeout.
func (e *Engine) Gather(ctx context.Context, ln *cluster.Listener, n int) ([]cluster.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Cluster.AcceptTimeout)
	defer cancel()

	conns := make([]cluster.Conn, 0, n)
	for len(conns) < n {
		c, err := ln.Accept(ctx)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, errors.Wrapf(err, errors.ErrorTypeTransport, "only %d of %d workers connected", len(conns), n)
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// RunLocal runs job with n workers in this process, connected over
// in-process pipes.
func (e *Engine) RunLocal(ctx context.Context, job Job, n int) error {
	if n < 1 {
		return e.RunSingle(ctx, job)
	}
	coordinator := make([]cluster.Conn, n)
	workers := make([]cluster.Conn, n)
	for i := range coordinator {
		coordinator[i], workers[i] = cluster.Pipe()
	}

	var wg sync.WaitGroup
	workerErrs := make([]error, n)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			workerErrs[i] = e.Serve(ctx, workers[i], i+1)
		}(i)
	}

	err := e.Coordinate(ctx, job, coordinator)
	for _, c := range coordinator {
		c.Close()
	}
	wg.Wait()
	if err != nil {
		return err
	}
	for _, werr := range workerErrs {
		if werr != nil {
			return werr
		}
	}
	return nil
}

// dispatcher hands out work blocks in index order. MakeWork is only ever
// called under its lock.
type dispatcher struct {
	mu    sync.Mutex
	a     analytic.Analytic
	next  int
	total int
}

func (d *dispatcher) take() (analytic.Block, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= d.total {
		return analytic.Block{}, false, nil
	}
	i := d.next
	b, err := d.a.MakeWork(i)
	if err != nil {
		return analytic.Block{}, false, blockError(err, i, "failed to make work")
	}
	b.Index = i
	d.next++
	return b, true, nil
}

// Coordinate runs job as rank 0: it binds the outputs, assigns the job to
// every worker on conns, distributes blocks, processes results in index
// order and finishes the outputs. Without workers it is RunSingle.
func (e *Engine) Coordinate(ctx context.Context, job Job, conns []cluster.Conn) (err error) {
	if len(conns) == 0 {
		return e.RunSingle(ctx, job)
	}
	ctx, runID, log := e.begin(ctx, job)
	ctx = context.WithValue(ctx, logger.RankKey, 0)
	log = log.With(zap.Int("rank", 0), zap.Int("workers", len(conns)))
	ctx, span := observability.StartSpan(ctx, "engine.coordinator",
		attribute.String("analytic", job.Analytic), attribute.Int("workers", len(conns)))
	defer func() { observability.EndSpan(span, err) }()

	fp, err := job.Fingerprint()
	if err != nil {
		return err
	}
	canon, err := job.Args.Canonical()
	if err != nil {
		return err
	}
	codec, err := newCodec(e.cfg.Cluster.Compression)
	if err != nil {
		return err
	}

	b, err := e.bind(job, runID, liveOutputs, log)
	if err != nil {
		return err
	}
	defer b.close()
	defer func() {
		if err != nil {
			e.terminate(conns, log)
		}
	}()

	for i, c := range conns {
		assign := &cluster.Message{
			Kind:        cluster.Assign,
			Rank:        i + 1,
			Analytic:    job.Analytic,
			Args:        canon,
			Fingerprint: fp[:],
			Compression: string(codec.Algorithm()),
		}
		if err := c.Send(ctx, assign); err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "failed to assign rank %d", i+1).WithDetail("rank", i+1)
		}
	}
	for i, c := range conns {
		m, err := c.Recv(ctx)
		if err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "rank %d did not report ready", i+1).WithDetail("rank", i+1)
		}
		switch m.Kind {
		case cluster.Ready:
			fields := []zap.Field{zap.Int("worker", i+1)}
			if m.Host != nil {
				fields = append(fields, zap.String("host", m.Host.Hostname), zap.Int("threads", m.Host.Threads()))
			}
			log.Info("worker ready", fields...)
		case cluster.Failure:
			return failureError(i+1, m)
		default:
			return unexpected(i+1, m, cluster.Ready)
		}
	}

	total := b.a.Size()
	log.Info("run started", zap.Int("blocks", total))
	d := &dispatcher{a: b.a, total: total}
	blocks := metrics.BlocksExecuted.WithLabelValues(job.Analytic, RoleCoordinator)
	results := make(chan analytic.Block, len(conns)*e.cfg.Execution.BufferSize)

	g, gctx := errgroup.WithContext(ctx)
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		rank, c := i+1, c
		g.Go(func() error {
			defer wg.Done()
			return e.feed(gctx, c, rank, d, codec, results)
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	g.Go(func() error {
		pending := make(map[int]analytic.Block)
		for r := range results {
			pending[r.Index] = r
			for {
				blk, ok := pending[processed]
				if !ok {
					break
				}
				delete(pending, processed)
				if err := b.a.Process(blk); err != nil {
					return blockError(err, blk.Index, "failed to process block")
				}
				blocks.Inc()
				processed++
				e.report(job, processed, total)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if processed != total {
		return errors.Newf(errors.ErrorTypeInternal, "processed %d of %d blocks", processed, total)
	}

	for i, c := range conns {
		if err := c.Send(ctx, &cluster.Message{Kind: cluster.Terminate}); err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "failed to terminate rank %d", i+1).WithDetail("rank", i+1)
		}
	}
	for i, c := range conns {
		m, err := c.Recv(ctx)
		if err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "rank %d did not acknowledge termination", i+1).WithDetail("rank", i+1)
		}
		if m.Kind != cluster.Done {
			return unexpected(i+1, m, cluster.Done)
		}
	}

	if err := b.finish(); err != nil {
		return err
	}
	log.Info("run finished", zap.Int("blocks", processed))
	return nil
}

// feed keeps up to buffer_size blocks in flight on one worker and forwards
// its results.
func (e *Engine) feed(ctx context.Context, c cluster.Conn, rank int, d *dispatcher, codec compression.Compressor, results chan<- analytic.Block) error {
	inflight := 0
	send := func() (bool, error) {
		blk, ok, err := d.take()
		if err != nil || !ok {
			return false, err
		}
		packed, err := codec.Compress(blk.Data)
		if err != nil {
			return false, blockError(err, blk.Index, "failed to compress work")
		}
		if err := c.Send(ctx, &cluster.Message{Kind: cluster.Work, Index: blk.Index, Data: packed}); err != nil {
			return false, errors.Wrapf(err, errors.TypeOf(err), "failed to send block %d to rank %d", blk.Index, rank).
				WithDetail("rank", rank).WithDetail("block", blk.Index)
		}
		inflight++
		return true, nil
	}

	for inflight < e.cfg.Execution.BufferSize {
		ok, err := send()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	for inflight > 0 {
		m, err := c.Recv(ctx)
		if err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "lost rank %d", rank).WithDetail("rank", rank)
		}
		switch m.Kind {
		case cluster.Result:
			inflight--
			raw, err := codec.Decompress(m.Data)
			if err != nil {
				return blockError(err, m.Index, "failed to decode result")
			}
			select {
			case results <- analytic.Block{Index: m.Index, Data: raw}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if _, err := send(); err != nil {
				return err
			}
		case cluster.Failure:
			return failureError(rank, m)
		default:
			return unexpected(rank, m, cluster.Result)
		}
	}
	return nil
}

// terminate tells every worker to stop after a failed run.
func (e *Engine) terminate(conns []cluster.Conn, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	for i, c := range conns {
		if err := c.Send(ctx, &cluster.Message{Kind: cluster.Terminate}); err != nil {
			log.Debug("failed to terminate worker", zap.Int("worker", i+1), zap.Error(err))
		}
	}
}

// Serve runs this process as worker rank on c until the coordinator sends
// Terminate. Outputs are never opened here.
func (e *Engine) Serve(ctx context.Context, c cluster.Conn, rank int) (err error) {
	ctx = context.WithValue(ctx, logger.RankKey, rank)
	log := logger.Enrich(ctx, e.log)

	m, err := c.Recv(ctx)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "no assignment from coordinator")
	}
	if m.Kind != cluster.Assign {
		return unexpected(0, m, cluster.Assign)
	}
	job, codec, err := e.accept(m)
	if err != nil {
		e.fail(c, -1, err, log)
		return err
	}

	ctx, runID, log := e.begin(ctx, job)
	log = log.With(zap.Int("rank", rank))
	ctx, span := observability.StartSpan(ctx, "engine.worker",
		attribute.String("analytic", job.Analytic), attribute.Int("rank", rank))
	defer func() { observability.EndSpan(span, err) }()

	b, err := e.bind(job, runID, noOutputs, log)
	if err != nil {
		e.fail(c, -1, err, log)
		return err
	}
	defer b.close()

	host := hostinfo.Collect(ctx)
	if err := c.Send(ctx, &cluster.Message{Kind: cluster.Ready, Rank: rank, Host: &host}); err != nil {
		return err
	}

	blocks := metrics.BlocksExecuted.WithLabelValues(job.Analytic, RoleWorker)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Execution.Threads)
	for {
		m, err := c.Recv(gctx)
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return errors.Wrap(err, errors.TypeOf(err), "lost coordinator")
		}
		switch m.Kind {
		case cluster.Work:
			work := *m
			g.Go(func() error {
				res, err := e.execute(gctx, b.a, codec, &work)
				if err != nil {
					e.fail(c, work.Index, err, log)
					return err
				}
				blocks.Inc()
				return c.Send(gctx, res)
			})
		case cluster.Terminate:
			if err := g.Wait(); err != nil {
				return err
			}
			log.Debug("worker terminated")
			return c.Send(ctx, &cluster.Message{Kind: cluster.Done, Rank: rank})
		default:
			g.Wait()
			return unexpected(0, m, cluster.Work)
		}
	}
}

// accept rebuilds the job of an Assign message and verifies its
// fingerprint.
func (e *Engine) accept(m *cluster.Message) (Job, compression.Compressor, error) {
	a, err := e.analytics.Create(m.Analytic)
	if err != nil {
		return Job{}, nil, err
	}
	args, err := analytic.DecodeArguments(a.Inputs(), m.Args)
	if err != nil {
		return Job{}, nil, err
	}
	job := Job{Analytic: m.Analytic, Args: args}
	fp, err := job.Fingerprint()
	if err != nil {
		return Job{}, nil, err
	}
	if !bytes.Equal(fp[:], m.Fingerprint) {
		return Job{}, nil, errors.New(errors.ErrorTypeArgumentMismatch, "assigned arguments do not match their fingerprint").
			WithDetail("analytic", m.Analytic)
	}
	codec, err := newCodec(m.Compression)
	if err != nil {
		return Job{}, nil, err
	}
	return job, codec, nil
}

func (e *Engine) execute(ctx context.Context, a analytic.Analytic, codec compression.Compressor, m *cluster.Message) (*cluster.Message, error) {
	raw, err := codec.Decompress(m.Data)
	if err != nil {
		return nil, blockError(err, m.Index, "failed to decode work")
	}
	res, err := a.Execute(ctx, analytic.Block{Index: m.Index, Data: raw})
	if err != nil {
		return nil, blockError(err, m.Index, "failed to execute block")
	}
	packed, err := codec.Compress(res.Data)
	if err != nil {
		return nil, blockError(err, m.Index, "failed to compress result")
	}
	return &cluster.Message{Kind: cluster.Result, Index: m.Index, Data: packed}, nil
}

// fail reports err to the coordinator; index -1 means the whole run.
func (e *Engine) fail(c cluster.Conn, index int, err error, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	m := &cluster.Message{Kind: cluster.Failure, Index: index, ErrorType: string(errors.TypeOf(err)), Error: err.Error()}
	if serr := c.Send(ctx, m); serr != nil {
		log.Warn("failed to report failure", zap.Error(serr))
	}
}

func failureError(rank int, m *cluster.Message) error {
	err := errors.Newf(errors.ErrorType(m.ErrorType), "rank %d failed: %s", rank, m.Error).WithDetail("rank", rank)
	if m.Index >= 0 {
		err = err.WithDetail("block", m.Index)
	}
	return err
}

func unexpected(rank int, m *cluster.Message, want cluster.Kind) error {
	return errors.Newf(errors.ErrorTypeTransport, "rank %d sent %s, expected %s", rank, m.Kind, want).WithDetail("rank", rank)
}
