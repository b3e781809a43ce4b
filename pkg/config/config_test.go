package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"empty prefix", func(c *Config) { c.Chunk.Prefix = "" }, "chunk.prefix"},
		{"prefix with slash", func(c *Config) { c.Chunk.Prefix = "a/b" }, "chunk.prefix"},
		{"dotted extension", func(c *Config) { c.Chunk.Extension = ".abd" }, "chunk.extension"},
		{"unknown codec", func(c *Config) { c.Chunk.Compression = "rar" }, "chunk.compression"},
		{"zero threads", func(c *Config) { c.Execution.Threads = 0 }, "execution.threads"},
		{"zero buffer", func(c *Config) { c.Execution.BufferSize = 0 }, "execution.buffer_size"},
		{"zero participants", func(c *Config) { c.Cluster.Participants = 0 }, "cluster.participants"},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"bad sample rate", func(c *Config) { c.Observability.TracingSampleRate = 2 }, "observability.tracing_sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.key, e.Details["key"])
		})
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
chunk:
  dir: ${ACE_TEST_CHUNK_DIR}
  prefix: part
execution:
  buffer_size: 9
cluster:
  accept_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("ACE_TEST_CHUNK_DIR", "/scratch/chunks")
	t.Setenv("ACE_EXECUTION_THREADS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/scratch/chunks", cfg.Chunk.Dir)
	assert.Equal(t, "part", cfg.Chunk.Prefix)
	assert.Equal(t, "abd", cfg.Chunk.Extension)
	assert.Equal(t, 9, cfg.Execution.BufferSize)
	assert.Equal(t, 3, cfg.Execution.Threads)
	assert.Equal(t, 5*time.Second, cfg.Cluster.AcceptTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "chunk", cfg.Chunk.Prefix)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	cfg := Default()
	cfg.Chunk.Keep = true
	cfg.Cluster.AcceptTimeout = 90 * time.Second
	cfg.Logging.OutputPaths = []string{"stderr"}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("chunk.keep", "true"))
	assert.True(t, cfg.Chunk.Keep)

	require.NoError(t, cfg.Set("cluster.accept_timeout", "2m"))
	assert.Equal(t, 2*time.Minute, cfg.Cluster.AcceptTimeout)

	err := cfg.Set("chunk.colour", "red")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = cfg.Set("chunk", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	err = cfg.Set("execution.threads", "0")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Positive(t, cfg.Execution.Threads, "failed set leaves config unchanged")
}

func TestSettingsSorted(t *testing.T) {
	settings, err := Default().Settings()
	require.NoError(t, err)
	require.NotEmpty(t, settings)
	for i := 1; i < len(settings); i++ {
		assert.Less(t, settings[i-1].Key, settings[i].Key)
	}
}

func TestChunkDir(t *testing.T) {
	c := ChunkConfig{}
	assert.Equal(t, "/data/out", c.ChunkDir("/data/out/result.num"))
	c.Dir = "/scratch"
	assert.Equal(t, "/scratch", c.ChunkDir("/data/out/result.num"))
}
