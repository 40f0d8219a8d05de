package emitter

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// PrometheusEmitter exposes the latest sweep through OTEL instruments,
// scraped via the Prometheus exporter.
type PrometheusEmitter struct {
	meter metric.Meter

	// Metrics
	resourceOutcome metric.Int64ObservableGauge
	sweepsTotal     metric.Int64Counter
	changesTotal    metric.Int64Counter
	unevaluated     metric.Int64Gauge

	// State for observable gauge
	mu       sync.RWMutex
	outcomes []resource.Outcome

	tracker *OutcomeTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on mp, or on the global
// meter provider when mp is nil.
func NewPrometheusEmitter(mp metric.MeterProvider) (*PrometheusEmitter, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	e := &PrometheusEmitter{
		meter:   mp.Meter("siivous.emitter"),
		tracker: NewOutcomeTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	// One series per resource in the last sweep, labelled with its action.
	e.resourceOutcome, err = e.meter.Int64ObservableGauge(
		"siivous_resource_outcome",
		metric.WithDescription("Outcome of each resource in the last sweep"),
		metric.WithInt64Callback(e.observeOutcomes),
	)
	if err != nil {
		return fmt.Errorf("create resource_outcome gauge: %w", err)
	}

	e.sweepsTotal, err = e.meter.Int64Counter(
		"siivous_sweeps_total",
		metric.WithDescription("Total sweeps completed"),
	)
	if err != nil {
		return fmt.Errorf("create sweeps counter: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"siivous_outcome_changes_total",
		metric.WithDescription("Resources whose outcome changed between sweeps"),
	)
	if err != nil {
		return fmt.Errorf("create outcome_changes counter: %w", err)
	}

	e.unevaluated, err = e.meter.Int64Gauge(
		"siivous_sweep_unevaluated",
		metric.WithDescription("Resources left unevaluated by an interrupted sweep"),
	)
	if err != nil {
		return fmt.Errorf("create unevaluated gauge: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, r *report.Report) error {
	logger := telemetry.NewLogger("emitter")

	e.sweepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("dry_run", r.DryRun),
		attribute.Bool("interrupted", r.Interrupted),
	))
	e.unevaluated.Record(ctx, int64(r.Unevaluated))

	for _, change := range e.tracker.Compare(r.Outcomes) {
		res := change.Outcome.Resource
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", res.Provider),
			attribute.String("kind", string(res.Kind)),
			attribute.String("change_type", string(change.Type)),
		))

		logger.Info().
			Str("id", res.ID).
			Str("kind", string(res.Kind)).
			Str("scope", res.Scope().ID()).
			Str("change", string(change.Type)).
			Str("from", string(change.Previous)).
			Str("to", string(change.Outcome.Action)).
			Msg("outcome changed")
	}

	e.mu.Lock()
	e.outcomes = r.Outcomes
	e.mu.Unlock()

	e.tracker.Update(r.Outcomes)
	return nil
}

// observeOutcomes is the callback for the resource_outcome gauge.
func (e *PrometheusEmitter) observeOutcomes(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, out := range e.outcomes {
		r := out.Resource
		attrs := []attribute.KeyValue{
			attribute.String("id", r.ID),
			attribute.String("kind", string(r.Kind)),
			attribute.String("provider", r.Provider),
			attribute.String("scope", r.Scope().ID()),
			attribute.String("action", string(out.Action)),
			attribute.String("verdict", string(out.Verdict)),
			attribute.String("dry_run", strconv.FormatBool(out.DryRun)),
		}
		if r.Name != "" {
			attrs = append(attrs, attribute.String("name", r.Name))
		}

		o.Observe(1, metric.WithAttributes(attrs...))
	}

	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
