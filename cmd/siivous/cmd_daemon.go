package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/internal/daemon"
	"github.com/yairfalse/siivous/internal/emitter"
	"github.com/yairfalse/siivous/internal/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sweep on an interval and serve Prometheus metrics",
	Long: `Run the sweep repeatedly, once at start and then on every interval.

Features:
- Prometheus metrics on /metrics (one series per resource outcome)
- Health checks on /health, /-/healthy, /-/ready
- Graceful shutdown on SIGTERM/SIGINT; an in-flight sweep finishes the
  resources it already started`,
	Example: `  siivous daemon                                  # Dry run every hour
  siivous daemon --interval 15m --dry-run=false   # Act every 15 minutes
  siivous daemon --metrics-addr :2112             # Custom metrics address`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", time.Hour, "Sweep interval")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", ":9090", "Metrics HTTP server address")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		cfg.Daemon.Interval = daemonInterval
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	if cfg.Daemon.Interval <= 0 {
		return &config.ConfigError{Field: "daemon.interval", Err: fmt.Errorf("must be positive (got %s)", cfg.Daemon.Interval)}
	}
	telemetry.SetupLogging(cfg.Log, debug)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	a, err := setup(ctx, cfg, promExporter)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	mp := a.telemetry.MeterProvider()
	emit, err := emitter.NewPrometheusEmitter(mp)
	if err != nil {
		return fmt.Errorf("create emitter: %w", err)
	}
	defer func() { _ = emit.Close() }()

	metrics, err := daemon.NewDaemonMetrics(mp)
	if err != nil {
		return fmt.Errorf("create daemon metrics: %w", err)
	}

	d, err := daemon.New(daemon.Config{
		Interval:    cfg.Daemon.Interval,
		MetricsAddr: cfg.Daemon.MetricsAddr,
	}, a.engine, a.plugins, emit, metrics)
	if err != nil {
		return &config.ConfigError{Field: "daemon", Err: err}
	}

	log.Info().
		Strs("scopes", cfg.Sweep.Scopes).
		Dur("interval", cfg.Daemon.Interval).
		Str("metrics_addr", cfg.Daemon.MetricsAddr).
		Bool("dry_run", cfg.Sweep.IsDryRun()).
		Msg("siivous daemon starting")

	return d.Run(ctx)
}
