package compression

import (
	"bytes"
	"testing"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	block := bytes.Repeat([]byte("gene expression block "), 200)

	for _, name := range Algorithms() {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(name+"/"+level.String(), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: Algorithm(name), Level: level})
				require.NoError(t, err)
				assert.Equal(t, Algorithm(name), comp.Algorithm())

				packed, err := comp.Compress(block)
				require.NoError(t, err)
				if comp.Algorithm() != None {
					assert.Less(t, len(packed), len(block))
				}

				out, err := comp.Decompress(packed)
				require.NoError(t, err)
				assert.Equal(t, block, out)
			})
		}
	}
}

func TestEmptyBlock(t *testing.T) {
	for _, name := range Algorithms() {
		comp, err := NewCompressor(&Config{Algorithm: Algorithm(name), Level: Default})
		require.NoError(t, err)
		packed, err := comp.Compress(nil)
		require.NoError(t, err, name)
		out, err := comp.Decompress(packed)
		require.NoError(t, err, name)
		assert.Empty(t, out, name)
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	a, err = ParseAlgorithm(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	_, err = ParseAlgorithm("brotli")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNilConfigStoresPlain(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, None, comp.Algorithm())
}

func TestDecompressGarbage(t *testing.T) {
	comp, err := NewCompressor(&Config{Algorithm: Zstd})
	require.NoError(t, err)
	_, err = comp.Decompress([]byte("not a zstd frame"))
	assert.Error(t, err)
}
