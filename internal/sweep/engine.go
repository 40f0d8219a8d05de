// Package sweep drives one sweep: discovery of every selected scope, then a
// bounded fan-out that evaluates and acts on each resource.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/internal/executor"
	"github.com/yairfalse/siivous/internal/expiry"
	"github.com/yairfalse/siivous/internal/filter"
	"github.com/yairfalse/siivous/internal/journal"
	"github.com/yairfalse/siivous/internal/notify"
	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/policy"
	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// DefaultConcurrency bounds the number of resources evaluated at once.
const DefaultConcurrency = 50

// Options configure the engine.
type Options struct {
	Concurrency int
	// InstanceAction is OpStop or OpTerminate.
	InstanceAction resource.Op
	TagPrefix      string
	InstanceTTL    time.Duration
	VolumeAge      time.Duration
	SnapshotAge    time.Duration
}

// OptionsFrom builds engine options from the sweep configuration.
func OptionsFrom(cfg config.SweepConfig) Options {
	action := resource.OpTerminate
	if cfg.InstanceAction == "stop" {
		action = resource.OpStop
	}
	return Options{
		Concurrency:    cfg.Concurrency,
		InstanceAction: action,
		TagPrefix:      cfg.TagPrefix,
		InstanceTTL:    cfg.InstanceTTL(),
		VolumeAge:      cfg.VolumeAge(),
		SnapshotAge:    cfg.SnapshotAge(),
	}
}

// Engine runs sweeps. It is safe to reuse across sweeps.
type Engine struct {
	opts      Options
	policy    *policy.Policy
	executor  *executor.Executor
	tracker   *expiry.Tracker
	volumes   *expiry.AgeRule
	snapshots *expiry.AgeRule
	filter    *filter.Filter
	notifier  notify.Notifier
	journal   *journal.Journal
	telemetry *telemetry.Provider
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an engine.
func New(opts Options, pol *policy.Policy, exec *executor.Executor) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.InstanceAction == "" {
		opts.InstanceAction = resource.OpTerminate
	}

	return &Engine{
		opts:      opts,
		policy:    pol,
		executor:  exec,
		tracker:   expiry.NewTracker(opts.TagPrefix, opts.InstanceTTL),
		volumes:   expiry.NewAgeRule(opts.VolumeAge),
		snapshots: expiry.NewAgeRule(opts.SnapshotAge),
		notifier:  notify.Nop{},
		now:       time.Now,
		logger:    telemetry.NewLogger("sweep"),
	}
}

// WithFilter restricts kinds and applies tag filters.
func (e *Engine) WithFilter(f *filter.Filter) *Engine {
	e.filter = f
	return e
}

// WithNotifier sets the notifier used after destructive actions.
func (e *Engine) WithNotifier(n notify.Notifier) *Engine {
	if n != nil {
		e.notifier = n
	}
	return e
}

// WithJournal records sweep start and finish in j.
func (e *Engine) WithJournal(j *journal.Journal) *Engine {
	e.journal = j
	return e
}

// WithTelemetry sets the telemetry provider.
func (e *Engine) WithTelemetry(t *telemetry.Provider) *Engine {
	e.telemetry = t
	return e
}

// WithClock overrides the time source of the engine, its expiry rules and
// the policy's Rego rule.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.policy.WithClock(now)
	e.tracker.WithClock(now)
	e.volumes.WithClock(now)
	e.snapshots.WithClock(now)
	return e
}

// task is one resource to evaluate with everything it needs from its scope.
type task struct {
	resource resource.Resource
	actor    plugin.Actor
	refs     resource.ReferenceSet
	runID    string
}

// Sweep discovers every plugin's scope and evaluates each resource. The
// returned error is non-nil only when no scope could be discovered; the
// report is returned either way.
func (e *Engine) Sweep(ctx context.Context, plugins []plugin.Plugin) (*report.Report, error) {
	start := e.now()
	runID := e.journal.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}

	rep := &report.Report{
		RunID:   runID,
		Started: start,
		DryRun:  e.executor.DryRun(),
	}
	for _, p := range plugins {
		rep.Scopes = append(rep.Scopes, p.Scope().ID())
	}

	ctx, span := e.telemetry.StartSpan(ctx, "sweep",
		attribute.String("run_id", runID),
		attribute.Bool("dry_run", rep.DryRun),
		attribute.Int("scopes", len(plugins)),
	)
	defer span.End()

	logger := e.logger.With().Str("run_id", runID).Logger()
	logger.Info().Ctx(ctx).Strs("scopes", rep.Scopes).Bool("dry_run", rep.DryRun).Msg("sweep started")
	e.journalAppend(ctx, journal.EntrySweepStarted, map[string]any{"scopes": rep.Scopes, "dry_run": rep.DryRun})

	catalogs := e.discover(ctx, plugins)

	failed := 0
	var tasks []task
	for i, c := range catalogs {
		for _, derr := range c.Errors {
			rep.DiscoveryErrors = append(rep.DiscoveryErrors, derr)
			e.telemetry.RecordDiscoveryError(ctx, c.Scope.ID(), string(derr.Kind))
			logger.Error().Ctx(ctx).Err(derr.Err).
				Str("scope", c.Scope.ID()).
				Str("kind", string(derr.Kind)).
				Msg("discovery failed")
		}
		if c.Failed() {
			failed++
		}
		for _, r := range c.Resources() {
			tasks = append(tasks, task{resource: r, actor: plugins[i], refs: c.Refs, runID: runID})
		}
	}

	if len(plugins) > 0 && failed == len(plugins) {
		rep.Duration = e.now().Sub(start)
		err := fmt.Errorf("%w: %w", ErrAllScopesFailed, errors.Join(rep.DiscoveryErrors...))
		logger.Error().Ctx(ctx).Err(err).Msg("sweep aborted")
		return rep, err
	}

	sink := report.NewSink()
	evaluated := e.fanOut(ctx, tasks, sink)

	rep.Outcomes = sink.Outcomes()
	rep.Unevaluated = len(tasks) - evaluated
	rep.Interrupted = rep.Unevaluated > 0
	rep.Duration = e.now().Sub(start)
	e.telemetry.RecordSweepDuration(ctx, rep.DryRun, rep.Duration)

	summary := rep.Summary()
	e.journalAppend(ctx, journal.EntrySweepFinished, map[string]any{
		"summary":     summary,
		"interrupted": rep.Interrupted,
		"unevaluated": rep.Unevaluated,
	})

	ev := logger.Info().Ctx(ctx)
	if rep.Interrupted {
		ev = logger.Warn().Ctx(ctx)
	}
	ev.Int("evaluated", evaluated).
		Int("unevaluated", rep.Unevaluated).
		Int("destroyed", summary.Destroyed).
		Int("tagged", summary.Tagged).
		Int("failed", summary.Failed).
		Dur("duration", rep.Duration).
		Msg("sweep finished")

	return rep, nil
}

// discover lists every scope concurrently, one goroutine per scope.
func (e *Engine) discover(ctx context.Context, plugins []plugin.Plugin) []*ScopeCatalog {
	ctx, span := e.telemetry.StartSpan(ctx, "sweep.discover")
	defer span.End()

	catalogs := make([]*ScopeCatalog, len(plugins))
	var g errgroup.Group
	for i, p := range plugins {
		g.Go(func() error {
			catalogs[i] = Discover(ctx, p, e.filter)
			return nil
		})
	}
	_ = g.Wait()
	return catalogs
}

// fanOut evaluates tasks with at most Concurrency in flight. Once ctx is
// done no further task starts; the ones already running finish on a
// context that ignores the cancellation. It returns the number of tasks
// evaluated.
func (e *Engine) fanOut(ctx context.Context, tasks []task, sink *report.Sink) int {
	var (
		g         errgroup.Group
		evaluated atomic.Int64
	)
	g.SetLimit(e.opts.Concurrency)
	detached := context.WithoutCancel(ctx)

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// the slot may have freed up after cancellation
			if ctx.Err() != nil {
				return nil
			}
			if out, ok := e.process(detached, t); ok {
				sink.Record(out)
			}
			evaluated.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(evaluated.Load())
}

func (e *Engine) journalAppend(ctx context.Context, typ journal.EntryType, data any) {
	if err := e.journal.Append(typ, "", data); err != nil {
		e.logger.Warn().Ctx(ctx).Err(err).Msg("journal write failed")
	}
}
