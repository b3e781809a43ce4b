// Package compression compresses the opaque block payloads that travel
// between participants and that are persisted in chunk records.
//
// Every algorithm is a whole-buffer codec: one block in, one block out.
// The algorithm used for a chunk file is recorded in its system metadata, so
// a merge always decodes records with the codec that wrote them.
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	packed, err := comp.Compress(block.Data)
//	data, err := comp.Decompress(packed)
package compression

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/pool"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None stores blocks as they are
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// MaxDecodedSize bounds the output of a single Decompress call.
const MaxDecodedSize = 1 << 30

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	default:
		return "custom"
	}
}

// Compressor compresses and decompresses whole blocks.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns the compressed form of data. data is not modified.
	Compress(data []byte) ([]byte, error)
	// Decompress returns the original bytes of a block produced by Compress.
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm
	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns a configuration that stores blocks uncompressed.
func DefaultConfig() *Config {
	return &Config{Algorithm: None, Level: Default}
}

var algorithms = map[Algorithm]struct{}{
	None: {}, Gzip: {}, Snappy: {}, LZ4: {}, Zstd: {}, S2: {}, Deflate: {},
}

// ParseAlgorithm resolves a configured algorithm name. The empty string
// means None.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if a == "" {
		return None, nil
	}
	if _, ok := algorithms[a]; !ok {
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm %q", name).
			WithDetail("supported", Algorithms())
	}
	return a, nil
}

// Algorithms lists the supported algorithm names in sorted order.
func Algorithms() []string {
	out := make([]string, 0, len(algorithms))
	for a := range algorithms {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{algorithm: config.Algorithm, level: config.Level}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, compressionLevel: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(base)
	case S2:
		return &s2Compressor{base}, nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, flateLevel: mapDeflateLevel(config.Level)}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

// Base compressor implementation
type baseCompressor struct {
	algorithm Algorithm
	level     Level
}

// Algorithm returns the compression algorithm
func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// Level returns the compression level
func (bc *baseCompressor) Level() Level {
	return bc.level
}

// readBounded drains r refusing output beyond MaxDecodedSize.
func readBounded(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, errors.New(errors.ErrorTypeCorruptData, "decompressed block exceeds size limit")
	}
	return buf.Bytes(), nil
}

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type gzipCompressor struct {
	baseCompressor
	writers *pool.Pool[*gzip.Writer]
}

func newGzipCompressor(base baseCompressor) *gzipCompressor {
	level := mapGzipLevel(base.level)
	return &gzipCompressor{
		baseCompressor: base,
		writers: pool.New(func() *gzip.Writer {
			w, _ := gzip.NewWriterLevel(nil, level)
			return w
		}, nil),
	}
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w := gc.writers.Get()
	defer gc.writers.Put(w)

	w.Reset(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return pool.Detach(buf), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readBounded(r)
}

type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, errors.New(errors.ErrorTypeCorruptData, "decompressed block exceeds size limit")
	}
	return snappy.Decode(nil, data)
}

type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return readBounded(lz4.NewReader(bytes.NewReader(data)))
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(base baseCompressor) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(base.level)), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd decoder")
	}
	return &zstdCompressor{baseCompressor: base, encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.decoder.DecodeAll(data, nil)
}

// S2 compressor (Snappy-compatible but better compression)
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	if sc.level >= Better {
		return s2.EncodeBetter(nil, data), nil
	}
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n > MaxDecodedSize {
		return nil, errors.New(errors.ErrorTypeCorruptData, "decompressed block exceeds size limit")
	}
	return s2.Decode(nil, data)
}

type deflateCompressor struct {
	baseCompressor
	flateLevel int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w, err := flate.NewWriter(buf, dc.flateLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return pool.Detach(buf), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return readBounded(r)
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
