package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"pm2bunyan/internal/config"
	"pm2bunyan/internal/delivery"
	"pm2bunyan/internal/downstream"
	"pm2bunyan/internal/lifecycle"
	"pm2bunyan/internal/logging"
	"pm2bunyan/internal/metrics"
	"pm2bunyan/internal/pidfile"
	"pm2bunyan/internal/router"
	"pm2bunyan/internal/sanitize"
	"pm2bunyan/internal/source"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// flags only read by the command line; the rest live in config.Config.
type flags struct {
	level      string
	conditions []string
	output     string
	name       string
}

// exitError carries a non-zero exit code out of cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "pm2bunyan [flags] [-- bunyan args...]",
		Short: "Stream PM2 process logs through bunyan",
		Long: `pm2bunyan reads PM2 bus log events, turns every line into a bunyan record
and pipes the records, in order, into the bunyan CLI for rendering.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			code := run(cmd.Context(), cfg, f, args)
			if code != lifecycle.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.level, "level", "l", "", "only show messages at or above this level (bunyan -l)")
	fl.StringArrayVarP(&f.conditions, "condition", "c", nil, "bunyan condition, may be repeated (bunyan -c)")
	fl.StringVarP(&f.output, "output", "o", "", "bunyan output mode (long, short, simple, json, bunyan, ...)")
	fl.StringVarP(&f.name, "name", "n", "", "only show entries of this process name")
	fl.StringVar(&cfg.Color, "color", cfg.Color, "colorize output: auto, always or never")
	fl.StringVar(&cfg.BunyanPath, "bunyan", cfg.BunyanPath, "bunyan executable")
	fl.StringVar(&cfg.Source, "source", cfg.Source, `event source: "-" for stdin, unix:/path or a file`)
	fl.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "hostname for synthesized entries (default: detected)")
	fl.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "diagnostic log level: debug, info, warn or error")
	fl.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "events that may wait for delivery before intake blocks")
	fl.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	return cmd
}

func downstreamOptions(cfg *config.Config, f *flags, extra []string) downstream.Options {
	return downstream.Options{
		Command:    cfg.BunyanPath,
		Level:      f.level,
		Conditions: f.conditions,
		Output:     f.output,
		Name:       f.name,
		Color:      cfg.Color,
		ExtraArgs:  extra,
	}
}

func run(ctx context.Context, cfg *config.Config, f *flags, extra []string) int {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))

	hostname := sanitize.LocalHostname(ctx, cfg.Hostname)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	in, err := source.Open(cfg.Source)
	if err != nil {
		slog.Error("failed to open event source", "source", cfg.Source, "error", err)
		return lifecycle.ExitDownstreamError
	}
	defer in.Close()

	san := sanitize.New(hostname, pidfile.NewResolver(), sanitize.WithMetrics(m))
	opts := downstreamOptions(cfg, f, extra)

	launch := func() (lifecycle.Downstream, error) {
		p, err := downstream.Start(opts, os.Stdout, os.Stderr)
		if err != nil {
			return nil, err
		}
		slog.Debug("downstream consumer started", "command", opts.Command, "pid", p.Pid())
		return p, nil
	}
	pipeline := func(ctx context.Context, out *delivery.Channel) error {
		sub := source.NewLineSubscriber(in, logging.Watermill())
		defer sub.Close()
		r := router.New(san, out, m, router.WithQueueSize(cfg.QueueSize))
		return r.Run(ctx, source.NewBus(sub, source.Topic))
	}

	slog.Debug("starting", "source", cfg.Source, "bunyan", cfg.BunyanPath, "hostname", hostname)
	return lifecycle.New(launch, pipeline).Run(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		if _, ok := err.(*exitError); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
