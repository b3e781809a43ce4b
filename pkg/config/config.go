// Package config provides the settings of the ACE framework.
//
// Settings are organized into sections:
//   - Chunk: location, naming and encoding of chunk partial outputs
//   - Execution: block concurrency inside one process
//   - Cluster: participant listen address, count and transport compression
//   - Logging: zap logger construction
//   - Observability: Prometheus endpoint and tracing
//
// Example usage:
//
//	cfg, err := config.Load("settings.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Execution.Threads = 8
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/pkg/compression"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"go.uber.org/zap/zapcore"
)

// Config is the complete settings tree.
type Config struct {
	Chunk         ChunkConfig         `yaml:"chunk" mapstructure:"chunk"`
	Execution     ExecutionConfig     `yaml:"execution" mapstructure:"execution"`
	Cluster       ClusterConfig       `yaml:"cluster" mapstructure:"cluster"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ChunkConfig controls chunk partial outputs.
type ChunkConfig struct {
	// Dir holds chunk files; empty means the directory of the primary output
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Prefix is placed before the chunk index in file names
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// Extension of chunk files
	Extension string `yaml:"extension" mapstructure:"extension"`
	// Compression applied to each stored result block
	Compression string `yaml:"compression" mapstructure:"compression"`
	// Keep leaves chunk files in place after a successful merge
	Keep bool `yaml:"keep" mapstructure:"keep"`
}

// ExecutionConfig controls block execution inside one process.
type ExecutionConfig struct {
	// Threads is the number of concurrent block executions
	Threads int `yaml:"threads" mapstructure:"threads"`
	// BufferSize is the number of blocks in flight per worker
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// ClusterConfig controls the process-role splitter transport.
type ClusterConfig struct {
	Listen        string        `yaml:"listen" mapstructure:"listen"`
	Participants  int           `yaml:"participants" mapstructure:"participants"`
	AcceptTimeout time.Duration `yaml:"accept_timeout" mapstructure:"accept_timeout"`
	Compression   string        `yaml:"compression" mapstructure:"compression"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string   `yaml:"level" mapstructure:"level"`
	Development bool     `yaml:"development" mapstructure:"development"`
	Encoding    string   `yaml:"encoding" mapstructure:"encoding"`
	OutputPaths []string `yaml:"output_paths" mapstructure:"output_paths"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	EnableMetrics     bool    `yaml:"enable_metrics" mapstructure:"enable_metrics"`
	MetricsAddr       string  `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	EnableTracing     bool    `yaml:"enable_tracing" mapstructure:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Chunk: ChunkConfig{
			Prefix:      "chunk",
			Extension:   "abd",
			Compression: string(compression.None),
		},
		Execution: ExecutionConfig{
			Threads:    runtime.NumCPU(),
			BufferSize: 4,
		},
		Cluster: ClusterConfig{
			Listen:        "127.0.0.1:0",
			Participants:  1,
			AcceptTimeout: 60 * time.Second,
			Compression:   string(compression.None),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Observability: ObservabilityConfig{
			MetricsAddr:       "127.0.0.1:9464",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks ranges and names. Errors are of type config and name the
// offending key.
func (c *Config) Validate() error {
	invalid := func(key, msg string) error {
		return errors.Newf(errors.ErrorTypeConfig, "%s: %s", key, msg).WithDetail("key", key)
	}

	if c.Chunk.Prefix == "" {
		return invalid("chunk.prefix", "must not be empty")
	}
	if strings.ContainsAny(c.Chunk.Prefix, `/\`) {
		return invalid("chunk.prefix", "must not contain path separators")
	}
	if c.Chunk.Extension == "" || strings.ContainsAny(c.Chunk.Extension, `/\.`) {
		return invalid("chunk.extension", "must be a non-empty extension without dots")
	}
	if _, err := compression.ParseAlgorithm(c.Chunk.Compression); err != nil {
		return invalid("chunk.compression", err.Error())
	}
	if c.Execution.Threads < 1 {
		return invalid("execution.threads", "must be positive")
	}
	if c.Execution.BufferSize < 1 {
		return invalid("execution.buffer_size", "must be positive")
	}
	if c.Cluster.Participants < 1 {
		return invalid("cluster.participants", "must be positive")
	}
	if c.Cluster.AcceptTimeout <= 0 {
		return invalid("cluster.accept_timeout", "must be positive")
	}
	if _, err := compression.ParseAlgorithm(c.Cluster.Compression); err != nil {
		return invalid("cluster.compression", err.Error())
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return invalid("logging.encoding", "must be json or console")
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate", "must be within [0, 1]")
	}
	return nil
}

// ChunkDir returns the directory holding chunk files for a primary output
// at outputPath.
func (c *ChunkConfig) ChunkDir(outputPath string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Dir(outputPath)
}

// Logger converts the logging section for logger.Init.
func (l *LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		Encoding:    l.Encoding,
		OutputPaths: l.OutputPaths,
	}
}
