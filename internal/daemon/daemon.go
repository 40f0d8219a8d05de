// Package daemon repeats the sweep on an interval and serves its metrics.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yairfalse/siivous/internal/emitter"
	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/internal/telemetry"
)

// Sweeper runs one sweep over plugins.
type Sweeper interface {
	Sweep(ctx context.Context, plugins []plugin.Plugin) (*report.Report, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	// MetricsAddr is the listen address of the HTTP server. Empty disables it.
	MetricsAddr string
	// MetricsHandler serves /metrics; defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// Daemon runs sweeps until its context is cancelled.
type Daemon struct {
	cfg     Config
	sweeper Sweeper
	plugins []plugin.Plugin
	emitter emitter.Emitter
	metrics *DaemonMetrics
	logger  zerolog.Logger

	startTime  time.Time
	sweepCount atomic.Int64
	ready      atomic.Bool
	addr       atomic.Value
}

// New creates a daemon. em may be nil.
func New(cfg Config, s Sweeper, plugins []plugin.Plugin, em emitter.Emitter, m *DaemonMetrics) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if em == nil {
		em = emitter.NewMultiEmitter()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	return &Daemon{
		cfg:       cfg,
		sweeper:   s,
		plugins:   plugins,
		emitter:   em,
		metrics:   m,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}, nil
}

// Run sweeps immediately and then on every interval tick, serving metrics
// alongside. It returns nil once ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		d.loop(ctx)
		return nil
	}, func(error) {
		cancel()
	})

	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", d.cfg.MetricsAddr, err)
		}
		d.addr.Store(ln.Addr().String())
		srv := &http.Server{Handler: d.routes(), ReadHeaderTimeout: 5 * time.Second}

		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info().Dur("interval", d.cfg.Interval).Int("scopes", len(d.plugins)).Msg("daemon started")
	err := g.Run()
	d.logger.Info().Int64("sweeps", d.sweepCount.Load()).Msg("daemon stopped")
	return err
}

func (d *Daemon) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runSweep(ctx)
		}
	}
}

func (d *Daemon) runSweep(ctx context.Context) {
	start := time.Now()
	rep, err := d.sweeper.Sweep(ctx, d.plugins)
	duration := time.Since(start)
	d.sweepCount.Add(1)

	status := "success"
	switch {
	case err != nil:
		status = "failed"
		d.logger.Error().Ctx(ctx).Err(err).Msg("sweep failed")
	case rep != nil && rep.Interrupted:
		status = "interrupted"
	}
	d.metrics.RecordSweep(ctx, status, duration)

	if rep != nil {
		d.metrics.RecordOutcomes(ctx, rep)
		// the report is complete; publish it even while shutting down
		if err := d.emitter.Emit(context.WithoutCancel(ctx), rep); err != nil {
			d.logger.Error().Ctx(ctx).Err(err).Msg("emit failed")
		}
	}
	d.ready.Store(true)
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.cfg.MetricsHandler)

	healthy := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	mux.HandleFunc("/-/healthy", healthy)
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !d.ready.Load() {
			http.Error(w, "first sweep not finished", http.StatusServiceUnavailable)
			return
		}
		healthy(w, nil)
	})
	return mux
}

// Addr returns the bound metrics address once Run is listening.
func (d *Daemon) Addr() string {
	s, _ := d.addr.Load().(string)
	return s
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Sweeps: d.sweepCount.Load(),
		Ready:  d.ready.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
	Sweeps int64  `json:"sweeps"`
	Ready  bool   `json:"ready"`
}

// SweepCount returns the number of sweeps run.
func (d *Daemon) SweepCount() int64 {
	return d.sweepCount.Load()
}
