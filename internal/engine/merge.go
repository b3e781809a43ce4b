package engine

import (
	"context"
	"os"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/compression"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/SystemsGenetics/ACE-sub002/pkg/observability"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// chunkRecord is the validated run record of one chunk file.
type chunkRecord struct {
	index       int
	size        int
	fingerprint analytic.Fingerprint
	start, end  int
	codec       compression.Compressor
	path        string
	obj         *data.Object
}

// RunMerge validates all size chunk files of job and folds their records
// into the job's outputs in index order. Outputs are folded under temporary
// names and replace the final paths only once the whole fold succeeds, so a
// failed merge leaves any earlier output untouched.
func (e *Engine) RunMerge(ctx context.Context, job Job, size int) (err error) {
	defer func() { metrics.Merges.WithLabelValues(metrics.Result(err)).Inc() }()
	if size < 1 {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "chunk size %d must be at least 1", size).WithDetail("size", size)
	}

	ctx, runID, log := e.begin(ctx, job)
	log = log.With(zap.Int("chunk_size", size))
	_, span := observability.StartSpan(ctx, "engine.merge",
		attribute.String("analytic", job.Analytic), attribute.Int("chunk.size", size))
	defer func() { observability.EndSpan(span, err) }()

	fp, err := job.Fingerprint()
	if err != nil {
		return err
	}

	chunks := make([]*chunkRecord, 0, size)
	defer func() {
		for _, c := range chunks {
			c.obj.Close()
		}
	}()
	for i := 0; i < size; i++ {
		path, err := e.chunkPath(job, i)
		if err != nil {
			return err
		}
		c, err := e.openChunk(path, i, size)
		if err != nil {
			return err
		}
		chunks = append(chunks, c)
		if c.fingerprint != chunks[0].fingerprint {
			return errors.Newf(errors.ErrorTypeArgumentMismatch,
				"chunk %d was produced with different arguments than chunk 0", i).
				WithDetail("chunk", i).WithDetail("path", path)
		}
	}
	if fp != chunks[0].fingerprint {
		return errors.New(errors.ErrorTypeArgumentMismatch, "merge arguments differ from the arguments the chunks were produced with").
			WithDetail("path", chunks[0].path)
	}
	next := 0
	for _, c := range chunks {
		if c.start != next || c.end < c.start {
			return errors.Newf(errors.ErrorTypeCorruptData, "chunk %d covers blocks [%d, %d), expected to start at %d",
				c.index, c.start, c.end, next).WithDetail("chunk", c.index).WithDetail("path", c.path)
		}
		next = c.end
	}
	log.Info("chunks validated")

	b, err := e.bind(job, runID, stagedOutputs, log)
	if err != nil {
		return err
	}
	defer b.abort()

	total := b.a.Size()
	if next != total {
		return errors.Newf(errors.ErrorTypeCorruptData, "chunks cover %d of %d blocks", next, total)
	}
	blocks := metrics.BlocksExecuted.WithLabelValues(job.Analytic, RoleMerge)
	next = 0
	for _, c := range chunks {
		s := stream.New(c.obj.Stream().Medium())
		for s.Remaining() > 0 {
			idx, packed, err := data.ReadRecord(s)
			if err != nil {
				return chunkError(err, c, "unreadable record")
			}
			if idx != next {
				return errors.Newf(errors.ErrorTypeCorruptData, "chunk %d holds block %d, expected %d", c.index, idx, next).
					WithDetail("chunk", c.index).WithDetail("path", c.path)
			}
			raw, err := c.codec.Decompress(packed)
			if err != nil {
				return chunkError(err, c, "undecodable record")
			}
			if err := b.a.Process(analytic.Block{Index: idx, Data: raw}); err != nil {
				return blockError(err, idx, "failed to process block")
			}
			blocks.Inc()
			next++
			e.report(job, next, total)
		}
		if next != c.end {
			return errors.Newf(errors.ErrorTypeCorruptData, "chunk %d ends at block %d, expected %d", c.index, next, c.end).
				WithDetail("chunk", c.index).WithDetail("path", c.path)
		}
	}
	if next != total {
		return errors.Newf(errors.ErrorTypeCorruptData, "chunks hold %d of %d blocks", next, total)
	}

	if err := b.finish(); err != nil {
		return err
	}
	if err := b.publish(); err != nil {
		return err
	}
	log.Info("merge finished", zap.Int("blocks", next))

	if !e.cfg.Chunk.Keep {
		for _, c := range chunks {
			c.obj.Close()
			if err := os.Remove(c.path); err != nil {
				log.Warn("failed to delete chunk", zap.Int("chunk", c.index), zap.String("path", c.path), zap.Error(err))
			}
		}
	}
	return nil
}

// openChunk opens and validates the run record of the chunk file for index.
func (e *Engine) openChunk(path string, index, size int) (*chunkRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrorTypeMissingChunk, "chunk %d is missing at %s", index, path).
				WithDetail("chunk", index).WithDetail("path", path)
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeIO, "failed to stat chunk %d", index).
			WithDetail("chunk", index).WithDetail("path", path)
	}

	obj, err := data.OpenReadOnly(path, e.manager.Kinds(), e.log)
	if err != nil {
		typ := errors.TypeOf(err)
		if typ != errors.ErrorTypeIO {
			typ = errors.ErrorTypeCorruptData
		}
		return nil, errors.Wrapf(err, typ, "failed to open chunk %d", index).
			WithDetail("chunk", index).WithDetail("path", path)
	}
	c := &chunkRecord{path: path, obj: obj}
	if err := c.read(); err != nil {
		obj.Close()
		return nil, errors.Wrapf(err, errors.TypeOf(err), "chunk %d has an invalid run record", index).
			WithDetail("chunk", index).WithDetail("path", path)
	}
	if c.index != index || c.size != size {
		obj.Close()
		return nil, errors.Newf(errors.ErrorTypeArgumentMismatch,
			"file for chunk %d of %d records chunk %d of %d", index, size, c.index, c.size).
			WithDetail("chunk", index).WithDetail("path", path)
	}
	return c, nil
}

func (c *chunkRecord) read() error {
	if err := c.obj.Expect(data.ChunkKindID); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCorruptData, "not a chunk file")
	}
	meta, ok := c.obj.SystemMeta().Get(metaChunk)
	if !ok {
		return errors.New(errors.ErrorTypeCorruptData, "missing chunk metadata")
	}

	num := func(key string) (int, error) {
		v, ok := meta.Get(key)
		if !ok {
			return 0, errors.Newf(errors.ErrorTypeCorruptData, "missing %q", key)
		}
		f, ok := v.AsDouble()
		if !ok {
			return 0, errors.Newf(errors.ErrorTypeCorruptData, "%q is %s, not a number", key, v.Kind())
		}
		return int(f), nil
	}
	str := func(key string) (string, error) {
		v, _ := meta.Get(key)
		s, ok := v.AsString()
		if !ok {
			return "", errors.Newf(errors.ErrorTypeCorruptData, "missing %q", key)
		}
		return s, nil
	}

	var err error
	if c.index, err = num(metaIndex); err != nil {
		return err
	}
	if c.size, err = num(metaSize); err != nil {
		return err
	}
	if c.start, err = num(metaStart); err != nil {
		return err
	}
	if c.end, err = num(metaEnd); err != nil {
		return err
	}
	fp, err := str(metaFingerprint)
	if err != nil {
		return err
	}
	if c.fingerprint, err = analytic.ParseFingerprint(fp); err != nil {
		return err
	}
	alg, err := str(metaCompression)
	if err != nil {
		return err
	}
	if c.codec, err = newCodec(alg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCorruptData, "unknown record compression")
	}
	return nil
}

func chunkError(err error, c *chunkRecord, msg string) error {
	return errors.Wrapf(err, errors.ErrorTypeCorruptData, "chunk %d: %s", c.index, msg).
		WithDetail("chunk", c.index).WithDetail("path", c.path)
}
