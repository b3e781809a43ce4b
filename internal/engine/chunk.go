package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/config"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/SystemsGenetics/ACE-sub002/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Plan is one chunk of a partitioned run.
type Plan struct {
	Index int
	Size  int
}

// Validate requires size >= 1 and 0 <= index < size.
func (p Plan) Validate() error {
	if p.Size < 1 {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "chunk size %d must be at least 1", p.Size).
			WithDetail("size", p.Size)
	}
	if p.Index < 0 || p.Index >= p.Size {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "chunk index %d outside [0, %d)", p.Index, p.Size).
			WithDetail("index", p.Index).WithDetail("size", p.Size)
	}
	return nil
}

// Range returns the block range [start, end) this chunk covers out of
// total blocks. Every chunk but the trailing ones gets ceil(total/size).
func (p Plan) Range(total int) (int, int) {
	per := (total + p.Size - 1) / p.Size
	start := p.Index * per
	end := start + per
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return start, end
}

// ChunkPath returns <dir>/<base of output>.<prefix><index>.<extension>.
func ChunkPath(cfg *config.ChunkConfig, output string, index int) string {
	name := fmt.Sprintf("%s.%s%d.%s", filepath.Base(output), cfg.Prefix, index, cfg.Extension)
	return filepath.Join(cfg.ChunkDir(output), name)
}

// primaryOutput is the first output argument; chunk paths derive from it.
func primaryOutput(a analytic.Analytic, args *analytic.Arguments) (string, error) {
	for _, in := range a.Inputs() {
		if in.Type.IsOutput() {
			if p := args.String(in.Name); p != "" {
				return p, nil
			}
		}
	}
	return "", errors.New(errors.ErrorTypeInvalidArgument, "analytic has no output to derive chunk paths from")
}

// chunkPath returns the chunk file for job at index.
func (e *Engine) chunkPath(job Job, index int) (string, error) {
	a, err := e.analytics.Create(job.Analytic)
	if err != nil {
		return "", err
	}
	out, err := primaryOutput(a, job.Args)
	if err != nil {
		return "", err
	}
	return ChunkPath(&e.cfg.Chunk, out, index), nil
}

// Chunk system metadata keys.
const (
	metaChunk       = "chunk"
	metaIndex       = "index"
	metaSize        = "size"
	metaFingerprint = "fingerprint"
	metaAnalytic    = "analytic"
	metaStart       = "start"
	metaEnd         = "end"
	metaBlocks      = "blocks"
	metaCompression = "compression"
)

// RunChunk executes the blocks of plan against read-only inputs and
// publishes their results as a chunk file. The file appears at its final
// path only once complete. It returns that path.
func (e *Engine) RunChunk(ctx context.Context, job Job, plan Plan) (path string, err error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}
	ctx, runID, log := e.begin(ctx, job)
	ctx = context.WithValue(ctx, logger.ChunkKey, plan.Index)
	log = log.With(zap.Int("chunk_index", plan.Index), zap.Int("chunk_size", plan.Size))
	ctx, span := observability.StartSpan(ctx, "engine.chunk",
		attribute.String("analytic", job.Analytic),
		attribute.Int("chunk.index", plan.Index),
		attribute.Int("chunk.size", plan.Size))
	defer func() { observability.EndSpan(span, err) }()

	timer := metrics.NewTimer()
	defer func() {
		if err == nil {
			metrics.ChunkDuration.WithLabelValues(job.Analytic).Observe(timer.Stop().Seconds())
		}
	}()

	final, err := e.chunkPath(job, plan.Index)
	if err != nil {
		return "", err
	}
	fp, err := job.Fingerprint()
	if err != nil {
		return "", err
	}
	codec, err := newCodec(e.cfg.Chunk.Compression)
	if err != nil {
		return "", err
	}

	b, err := e.bind(job, runID, noOutputs, log)
	if err != nil {
		return "", err
	}
	defer b.close()

	total := b.a.Size()
	start, end := plan.Range(total)

	meta := metadata.NewObject()
	_ = meta.Set(metaIndex, metadata.Double(float64(plan.Index)))
	_ = meta.Set(metaSize, metadata.Double(float64(plan.Size)))
	_ = meta.Set(metaFingerprint, metadata.String(fp.String()))
	_ = meta.Set(metaAnalytic, metadata.String(job.Analytic))
	_ = meta.Set(metaStart, metadata.Double(float64(start)))
	_ = meta.Set(metaEnd, metadata.Double(float64(end)))
	_ = meta.Set(metaBlocks, metadata.Double(float64(total)))
	_ = meta.Set(metaCompression, metadata.String(string(codec.Algorithm())))
	sys := metadata.NewObject()
	_ = sys.Set(metaChunk, meta)
	_ = sys.Set("uuid", metadata.String(runID))

	tmp := final + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, errors.ErrorTypeIO, "failed to remove stale %s", tmp).WithDetail("path", tmp)
	}
	ref, err := e.manager.Create(tmp, data.ChunkKindID, sys)
	if err != nil {
		return "", err
	}
	published := false
	defer func() {
		if !published {
			ref.Release()
			os.Remove(tmp)
		}
	}()

	log.Info("chunk started", zap.Int("start", start), zap.Int("end", end), zap.Int("blocks", total))
	blocks := metrics.BlocksExecuted.WithLabelValues(job.Analytic, RoleChunk)
	s := ref.Object().Stream()
	done := 0
	err = runBlocks(ctx, b.a, start, end, e.cfg.Execution.Threads, func(r analytic.Block) error {
		packed, err := codec.Compress(r.Data)
		if err != nil {
			return err
		}
		if err := data.WriteRecord(s, r.Index, packed); err != nil {
			return err
		}
		blocks.Inc()
		done++
		e.report(job, done, end-start)
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, errors.TypeOf(err), "chunk %d failed", plan.Index).WithDetail("chunk", plan.Index)
	}

	if err := ref.Object().WriteMeta(); err != nil {
		return "", err
	}
	if err := ref.Release(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeIO, "failed to publish chunk %d", plan.Index).
			WithDetail("chunk", plan.Index).WithDetail("path", final)
	}
	published = true
	log.Info("chunk published", zap.String("path", final), zap.Int("records", done))
	return final, nil
}
