package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/siivous/internal/report"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	sweeps        metric.Int64Counter
	sweepDuration metric.Float64Histogram
	evaluated     metric.Int64Gauge
	lastSweep     metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on mp, or on the global meter
// provider when mp is nil.
func NewDaemonMetrics(mp metric.MeterProvider) (*DaemonMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("siivous.daemon")

	sweeps, err := meter.Int64Counter(
		"siivous.daemon.sweeps",
		metric.WithDescription("Number of sweeps run by the daemon"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"siivous.daemon.sweep.duration",
		metric.WithDescription("Duration of daemon sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	evaluated, err := meter.Int64Gauge(
		"siivous.daemon.resources",
		metric.WithDescription("Resources evaluated in the last sweep"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	lastSweep, err := meter.Int64Gauge(
		"siivous.daemon.last_sweep",
		metric.WithDescription("Unix time the last sweep finished"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		sweeps:        sweeps,
		sweepDuration: sweepDuration,
		evaluated:     evaluated,
		lastSweep:     lastSweep,
	}, nil
}

// RecordSweep records one sweep with its status.
func (m *DaemonMetrics) RecordSweep(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.sweeps.Add(ctx, 1, attrs)
	m.sweepDuration.Record(ctx, d.Seconds(), attrs)
	m.lastSweep.Record(ctx, time.Now().Unix())
}

// RecordOutcomes records the number of evaluated resources per provider and
// kind.
func (m *DaemonMetrics) RecordOutcomes(ctx context.Context, r *report.Report) {
	if m == nil {
		return
	}
	type key struct{ provider, kind string }
	counts := make(map[key]int64)
	for _, o := range r.Outcomes {
		counts[key{o.Resource.Provider, string(o.Resource.Kind)}]++
	}
	for k, n := range counts {
		m.evaluated.Record(ctx, n, metric.WithAttributes(
			attribute.String("cloud.provider", k.provider),
			attribute.String("resource.kind", k.kind),
		))
	}
}
