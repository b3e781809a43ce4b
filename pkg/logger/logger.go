// Package logger provides structured logging for ACE
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

// contextKey is the type for context keys
type contextKey string

const (
	// RunIDKey is the context key for the run uuid
	RunIDKey contextKey = "run_id"
	// AnalyticKey is the context key for the analytic name
	AnalyticKey contextKey = "analytic"
	// ChunkKey is the context key for the chunk index of a chunk run
	ChunkKey contextKey = "chunk_index"
	// RankKey is the context key for the participant rank
	RankKey contextKey = "rank"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init initializes the global logger, replacing any previous one.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// New builds a zap logger from cfg without touching the global logger.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		// stdout carries analytic output (dump, list); logs go to stderr
		outputPaths = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return logger, nil
}

// Get returns the global logger
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		logger, err := New(Config{Level: "info", Encoding: "json"})
		if err != nil {
			// Fallback to basic logger
			logger, _ = zap.NewProduction()
		}
		globalLogger = logger
	}
	return globalLogger
}

// Named returns the global logger tagged with a component field.
func Named(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}

// WithContext returns the global logger enriched with the run fields in ctx.
func WithContext(ctx context.Context) *zap.Logger {
	return Enrich(ctx, Get())
}

// Enrich adds the run fields carried by ctx to l.
func Enrich(ctx context.Context, l *zap.Logger) *zap.Logger {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		l = l.With(zap.String("run_id", runID))
	}

	if analytic, ok := ctx.Value(AnalyticKey).(string); ok {
		l = l.With(zap.String("analytic", analytic))
	}

	if chunk, ok := ctx.Value(ChunkKey).(int); ok {
		l = l.With(zap.Int("chunk_index", chunk))
	}

	if rank, ok := ctx.Value(RankKey).(int); ok {
		l = l.With(zap.Int("rank", rank))
	}

	return l
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
