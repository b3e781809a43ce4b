package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/SystemsGenetics/ACE-sub002/internal/cluster"
	"github.com/SystemsGenetics/ACE-sub002/internal/engine"
	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// jobFunc runs a parsed job on an engine.
type jobFunc func(ctx context.Context, e *engine.Engine, job engine.Job) error

// analyticCommands adds one subcommand per registered analytic to parent.
// Each input of the analytic becomes a flag of the same name.
func (a *app) analyticCommands(parent *cobra.Command, run jobFunc) {
	for _, info := range a.analytics.List() {
		info := info
		values := make(map[string]*string, len(info.Inputs))
		cmd := &cobra.Command{
			Use:   info.Name,
			Short: info.Description,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				raw := make(map[string]string)
				cmd.Flags().Visit(func(f *pflag.Flag) {
					if v, ok := values[f.Name]; ok {
						raw[f.Name] = *v
					}
				})
				e, reporter := a.engine()
				defer reporter.Close()
				job, err := e.NewJob(info.Name, raw)
				if err != nil {
					return err
				}
				return run(cmd.Context(), e, job)
			},
		}
		for _, in := range info.Inputs {
			values[in.Name] = cmd.Flags().String(in.Name, in.Default, usage(in))
			if in.Required && in.Default == "" {
				_ = cmd.MarkFlagRequired(in.Name)
			}
		}
		parent.AddCommand(cmd)
	}
}

func usage(in analytic.Input) string {
	var b strings.Builder
	if in.Description != "" {
		b.WriteString(in.Description)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "(%s", in.Type)
	switch {
	case len(in.Options) > 0:
		fmt.Fprintf(&b, ": %s", strings.Join(in.Options, ", "))
	case in.Bounded:
		fmt.Fprintf(&b, " in [%g, %g]", in.Min, in.Max)
	}
	b.WriteByte(')')
	return b.String()
}

func (a *app) runCommand() *cobra.Command {
	var (
		participants int
		localWorkers int
		listen       string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an analytic",
		Long: `Run an analytic to completion.

With --participants N > 1 this process becomes the coordinator and waits
for N-1 workers started with "ace worker". With --local-workers N the
workers run inside this process.`,
	}
	cmd.PersistentFlags().IntVar(&participants, "participants", 0, "Total participants including this coordinator (default from settings)")
	cmd.PersistentFlags().IntVar(&localWorkers, "local-workers", 0, "Workers to run inside this process")
	cmd.PersistentFlags().StringVar(&listen, "listen", "", "Address workers connect to (default from settings)")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	a.analyticCommands(cmd, func(ctx context.Context, e *engine.Engine, job engine.Job) error {
		cfg := e.Config()
		if metricsAddr == "" && cfg.Observability.EnableMetrics {
			metricsAddr = cfg.Observability.MetricsAddr
		}
		if metricsAddr != "" {
			if _, err := metrics.Serve(ctx, metricsAddr, a.log); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "failed to serve metrics").WithDetail("addr", metricsAddr)
			}
		}

		if localWorkers > 0 {
			return e.RunLocal(ctx, job, localWorkers)
		}
		if participants == 0 {
			participants = cfg.Cluster.Participants
		}
		if participants <= 1 {
			return e.RunSingle(ctx, job)
		}
		if listen == "" {
			listen = cfg.Cluster.Listen
		}
		ln, err := cluster.Listen(listen, a.log)
		if err != nil {
			return err
		}
		defer ln.Close()
		a.log.Info("waiting for workers", zap.String("addr", ln.Addr().String()), zap.Int("workers", participants-1))
		conns, err := e.Gather(ctx, ln, participants-1)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		return e.Coordinate(ctx, job, conns)
	})
	return cmd
}

func (a *app) chunkCommand() *cobra.Command {
	var plan engine.Plan
	cmd := &cobra.Command{
		Use:   "chunkrun",
		Short: "Run one chunk of an analytic",
		Long: `Run the blocks of chunk --index out of --size and store their results in a
chunk file next to the primary output. "ace merge" folds the chunks.`,
	}
	cmd.PersistentFlags().IntVar(&plan.Index, "index", 0, "Chunk index")
	cmd.PersistentFlags().IntVar(&plan.Size, "size", 1, "Number of chunks")
	_ = cmd.MarkPersistentFlagRequired("index")
	_ = cmd.MarkPersistentFlagRequired("size")

	a.analyticCommands(cmd, func(ctx context.Context, e *engine.Engine, job engine.Job) error {
		path, err := e.RunChunk(ctx, job, plan)
		if err != nil {
			return err
		}
		a.log.Info("chunk written", zap.String("path", path))
		return nil
	})
	return cmd
}

func (a *app) mergeCommand() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the chunks of an analytic into its outputs",
	}
	cmd.PersistentFlags().IntVar(&size, "size", 1, "Number of chunks")
	_ = cmd.MarkPersistentFlagRequired("size")

	a.analyticCommands(cmd, func(ctx context.Context, e *engine.Engine, job engine.Job) error {
		return e.RunMerge(ctx, job, size)
	})
	return cmd
}

func (a *app) workerCommand() *cobra.Command {
	var (
		addr string
		rank int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve as a worker for a coordinator started with ace run --participants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rank < 1 {
				return errors.Newf(errors.ErrorTypeInvalidArgument, "worker rank %d must be at least 1", rank).WithDetail("rank", rank)
			}
			ctx := context.WithValue(cmd.Context(), logger.RankKey, rank)
			log := logger.WithContext(ctx)
			c, err := cluster.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			log.Info("connected to coordinator", zap.String("addr", addr))
			e, reporter := a.engine()
			defer reporter.Close()
			if err := e.Serve(ctx, c, rank); err != nil {
				return err
			}
			log.Info("worker finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "connect", "", "Coordinator address")
	cmd.Flags().IntVar(&rank, "rank", 1, "Worker rank")
	_ = cmd.MarkFlagRequired("connect")
	return cmd
}
