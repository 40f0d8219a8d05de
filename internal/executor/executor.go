// Package executor applies one mutation at a time to a provider, with dry
// run, rate limiting, pre-flight safety checks and journaling.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yairfalse/siivous/internal/journal"
	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/policy"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Executor performs mutations. It is safe for concurrent use.
type Executor struct {
	options   Options
	limiter   *rate.Limiter
	journal   *journal.Journal
	checker   *SafetyChecker
	telemetry *telemetry.Provider
	logger    zerolog.Logger
}

// New creates an executor. j, pol and tel may all be nil.
func New(options Options, j *journal.Journal, pol *policy.Policy, tel *telemetry.Provider) *Executor {
	limit := rate.Inf
	if options.RateLimit > 0 {
		limit = rate.Limit(options.RateLimit)
	}
	burst := options.Burst
	if burst < 1 {
		burst = 1
	}

	return &Executor{
		options:   options,
		limiter:   rate.NewLimiter(limit, burst),
		journal:   j,
		checker:   NewSafetyChecker(pol),
		telemetry: tel,
		logger:    telemetry.NewLogger("executor"),
	}
}

// DryRun reports whether mutations are disabled.
func (e *Executor) DryRun() bool {
	return e.options.DryRun
}

// Execute runs req against actor. Errors are never returned; they are
// carried in Result.Err as an *ActionError.
func (e *Executor) Execute(ctx context.Context, actor plugin.Actor, req Request) Result {
	start := time.Now()
	ref := req.Resource.Ref()

	ctx, span := e.telemetry.StartSpan(ctx, "executor."+string(req.Op),
		attribute.String("resource.id", ref.ID),
		attribute.String("resource.kind", string(ref.Kind)),
		attribute.String("scope", ref.Scope.ID()),
		attribute.Bool("dry_run", e.options.DryRun),
	)
	defer span.End()

	logger := e.logger.With().
		Str("op", string(req.Op)).
		Str("resource", ref.ID).
		Str("kind", string(ref.Kind)).
		Str("scope", ref.Scope.ID()).
		Logger()

	rec := recordFor(req)

	if e.options.DryRun {
		logger.Info().Ctx(ctx).Str("reason", req.Reason).Msgf("would %s", req.Op)
		e.journalAppend(ctx, journal.EntryDryRun, ref.ID, rec, nil)
		return Result{Status: StatusDryRun, Duration: time.Since(start)}
	}

	if req.Op.Destructive() {
		if res, done := e.preflight(ctx, actor, req, logger); done {
			res.Duration = time.Since(start)
			if res.Status == StatusSkipped {
				rec.Skip = res.SkipReason
				e.journalAppend(ctx, journal.EntrySkipped, ref.ID, rec, nil)
			}
			return res
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return e.fail(ctx, req, rec, fmt.Errorf("rate limiter: %w", err), start, logger)
	}

	e.journalAppend(ctx, journal.EntryExecuting, ref.ID, rec, nil)

	if err := dispatch(ctx, actor, req); err != nil {
		if req.Op.Destructive() && errors.Is(err, plugin.ErrNotFound) {
			logger.Info().Ctx(ctx).Msg("resource vanished before the action completed")
			rec.Skip = "resource no longer exists"
			e.journalAppend(ctx, journal.EntrySkipped, ref.ID, rec, nil)
			return Result{Status: StatusSkipped, SkipReason: rec.Skip, Duration: time.Since(start)}
		}
		return e.fail(ctx, req, rec, err, start, logger)
	}

	rec.Duration = time.Since(start)
	e.journalAppend(ctx, journal.EntryExecuted, ref.ID, rec, nil)

	logger.Info().Ctx(ctx).Dur("duration", rec.Duration).Str("reason", req.Reason).Msg("action completed")
	return Result{Status: StatusSuccess, Duration: rec.Duration}
}

// preflight refreshes the resource and runs the safety checks. It returns
// true when the op must not proceed, along with the outcome.
func (e *Executor) preflight(ctx context.Context, actor plugin.Actor, req Request, logger zerolog.Logger) (Result, bool) {
	ref := req.Resource.Ref()

	current, err := actor.Refresh(ctx, ref)
	if err != nil {
		if errors.Is(err, plugin.ErrNotFound) {
			reason := "resource no longer exists"
			logger.Info().Ctx(ctx).Msg(reason)
			return Result{Status: StatusSkipped, SkipReason: reason}, true
		}
		rec := recordFor(req)
		return e.fail(ctx, req, rec, fmt.Errorf("pre-flight refresh: %w", err), time.Now(), logger), true
	}

	if ref.Kind == resource.KindInstance {
		locked, err := actor.Locked(ctx, ref)
		if err != nil {
			rec := recordFor(req)
			return e.fail(ctx, req, rec, fmt.Errorf("pre-flight lock check: %w", err), time.Now(), logger), true
		}
		current.Locked = locked
	}

	if drift := resource.Drift(req.Resource, current); len(drift) > 0 {
		ev := logger.Info().Ctx(ctx)
		for field, c := range drift {
			ev = ev.Str(field, c.Previous+" -> "+c.Current)
		}
		ev.Msg("resource changed since discovery")
	}

	checks := e.checker.CheckSafety(ctx, Preflight{Request: req, Current: current})
	for _, c := range checks {
		if !c.Passed && c.Severity == SeverityWarning {
			logger.Warn().Ctx(ctx).Str("check", c.Name).Msg(c.Message)
		}
	}
	if blocked, ok := Blocking(checks); ok {
		reason := fmt.Sprintf("%s failed: %s", blocked.Name, blocked.Message)
		logger.Warn().Ctx(ctx).Str("check", blocked.Name).Msg("pre-flight check blocked action: " + blocked.Message)
		return Result{Status: StatusSkipped, SkipReason: reason, Verdict: blocked.Verdict}, true
	}

	return Result{}, false
}

func (e *Executor) fail(ctx context.Context, req Request, rec journalRecord, err error, start time.Time, logger zerolog.Logger) Result {
	aerr := &ActionError{Op: req.Op, Ref: req.Resource.Ref(), Err: err}

	logger.Error().Ctx(ctx).Err(err).Msg("action failed")
	e.journalAppend(ctx, journal.EntryFailed, req.Resource.ID, rec, aerr)
	e.telemetry.RecordActionFailure(ctx, req.Resource.Provider, string(req.Op))

	span := trace.SpanFromContext(ctx)
	span.RecordError(aerr)
	span.SetStatus(codes.Error, aerr.Error())

	return Result{Status: StatusFailed, Err: aerr, Duration: time.Since(start)}
}

func (e *Executor) journalAppend(ctx context.Context, typ journal.EntryType, id string, rec journalRecord, err error) {
	var jerr error
	if err != nil {
		jerr = e.journal.AppendError(typ, id, rec, err)
	} else {
		jerr = e.journal.Append(typ, id, rec)
	}
	if jerr != nil {
		e.logger.Warn().Ctx(ctx).Err(jerr).Str("resource", id).Msg("journal write failed")
	}
}
