package main

import (
	"context"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/internal/engine"
	"github.com/SystemsGenetics/ACE-sub002/internal/example"
	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/config"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/observability"
	"github.com/SystemsGenetics/ACE-sub002/pkg/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every command shares: the registries, which are fixed at
// startup, and the settings and logger resolved before a command runs.
type app struct {
	configPath string
	logLevel   string

	kinds     *data.Kinds
	analytics *analytic.Registry

	cfg      *config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func newApp() (*app, error) {
	kinds, err := example.Kinds()
	if err != nil {
		return nil, err
	}
	analytics := analytic.NewRegistry()
	if err := example.Register(analytics); err != nil {
		return nil, err
	}
	return &app{
		configPath: config.DefaultPath(),
		kinds:      kinds,
		analytics:  analytics,
	}, nil
}

// setup loads settings, applies flag overrides and initializes logging and
// tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadOptional(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.Named("cli")

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = engine.Version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		tc.Writer = cmd.ErrOrStderr()
		if a.shutdown, err = observability.Init(tc); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown() {
	if a.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("failed to flush traces", zap.Error(err))
	}
}

// engine returns an engine over a fresh data manager. The reporter is
// closed by the caller once the run returns.
func (a *app) engine() (*engine.Engine, *progress.Reporter) {
	reporter := progress.NewReporter(logger.Named("progress"))
	manager := data.NewManager(a.kinds, data.WithLogger(logger.Named("data")))
	return engine.New(manager, a.analytics, a.cfg,
		engine.WithLogger(logger.Named("engine")),
		engine.WithReporter(reporter)), reporter
}

func newRootCommand() *cobra.Command {
	a, err := newApp()
	if err != nil {
		// the built-in registries are static; a failure here is a programming error
		panic(err)
	}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ace",
		Short:         "ACE - accelerated computation engine",
		Long:          "ace executes analytics over ACE data objects in one process, as independent chunks merged afterwards, or across a coordinator and workers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", a.configPath, "Settings file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		a.runCommand(),
		a.chunkCommand(),
		a.mergeCommand(),
		a.workerCommand(),
		a.dumpCommand(),
		a.injectCommand(),
		a.settingsCommand(),
		a.listCommand(),
		a.infoCommand(),
		a.versionCommand(),
	)
	return root
}
