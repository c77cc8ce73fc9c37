// Package main is the entry point for the pulse event and task runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/pulse/internal/app"
	"github.com/dshills/pulse/internal/config"
	"github.com/dshills/pulse/internal/schedule"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand that loads configuration.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

func (g *globalFlags) load() (config.Config, error) {
	opts := []config.Option{config.WithDotEnv(g.envFiles...)}
	if g.configPath != "" {
		opts = append(opts, config.WithFile(g.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "pulse",
		Short:         "Prioritized event dispatch and task scheduling runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "path to a TOML or YAML configuration file")
	pf.StringSliceVar(&g.envFiles, "env-file", nil, ".env files read below the process environment")
	pf.StringVar(&g.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(g),
		newConfigCommand(g),
		newVersionCommand(),
	)
	return root
}

type runFlags struct {
	watch     bool
	heartbeat time.Duration
	cron      string
	report    time.Duration
	timeout   time.Duration
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bus and scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRuntime(ctx, g, f)
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.watch, "watch", "w", false, "reload the configuration file when it changes")
	fl.DurationVar(&f.heartbeat, "heartbeat", time.Second, "heartbeat interval, 0 disables")
	fl.StringVar(&f.cron, "heartbeat-cron", "", "cron expression for heartbeats, replaces --heartbeat")
	fl.DurationVar(&f.report, "report", 0, "log a health report at this interval, 0 disables")
	fl.DurationVar(&f.timeout, "shutdown-timeout", 10*time.Second, "time allowed for a graceful shutdown")
	return cmd
}

func runRuntime(ctx context.Context, g *globalFlags, f *runFlags) error {
	if f.watch && g.configPath == "" {
		return errors.New("--watch requires --config")
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	rt, err := app.New(ctx, app.Options{
		Config:     cfg,
		ConfigPath: g.configPath,
		Watch:      f.watch,
		DotEnv:     g.envFiles,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	// Ensure cleanup on all exit paths
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		_ = rt.Shutdown(sctx)
	}()

	if _, err := rt.Bus().Register(app.NewEventLogger(rt.Logger())); err != nil {
		return err
	}
	if err := registerTasks(rt, f); err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	rt.Logger().Info("shutdown requested")
	return nil
}

func registerTasks(rt *app.Runtime, f *runFlags) error {
	hb := app.NewHeartbeatTask(rt.Bus())
	switch {
	case f.cron != "":
		if _, err := rt.Scheduler().RegisterCron(hb, f.cron); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
	case f.heartbeat > 0:
		if _, err := rt.Scheduler().RegisterRepeating(hb, f.heartbeat); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
	}

	if f.report > 0 {
		logger := rt.Logger().WithComponent("health")
		report := schedule.Func(func(time.Time, time.Duration) {
			h := rt.Health()
			logger.Info("health",
				"status", h.Status.String(),
				"uptime", h.Uptime.Round(time.Second),
				"queued", h.Bus.QueueDepth,
				"dispatched", h.Bus.EventsDispatched,
				"dropped", h.Bus.EventsDropped,
				"rejected", h.Bus.EventsRejected,
				"shards", h.ShardSizes,
			)
		})
		if _, err := rt.Scheduler().RegisterRepeating(report, f.report, f.report); err != nil {
			return fmt.Errorf("health report: %w", err)
		}
	}
	return nil
}

func newConfigCommand(g *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg.Redacted(), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (toml or yaml)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Pulse %s\n", version)
			fmt.Fprintf(w, "Commit: %s\n", commit)
			fmt.Fprintf(w, "Built: %s\n", date)
		},
	}
}
