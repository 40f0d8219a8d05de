package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/siivous/internal/executor"
	"github.com/yairfalse/siivous/internal/expiry"
	"github.com/yairfalse/siivous/internal/notify"
	"github.com/yairfalse/siivous/pkg/resource"
)

// process evaluates one resource and acts on it. It returns false when the
// resource is filtered out by tag and must not be reported.
func (e *Engine) process(ctx context.Context, t task) (resource.Outcome, bool) {
	r := t.resource

	ctx, span := e.telemetry.StartSpan(ctx, "sweep.evaluate",
		attribute.String("resource.id", r.ID),
		attribute.String("resource.kind", string(r.Kind)),
		attribute.String("scope", r.Scope().ID()),
	)
	defer span.End()

	logger := e.logger.With().
		Str("resource", r.ID).
		Str("kind", string(r.Kind)).
		Str("scope", r.Scope().ID()).
		Logger()

	out, ok := e.evaluate(ctx, t, logger)
	if !ok {
		return out, false
	}
	out.DryRun = e.executor.DryRun()

	span.SetAttributes(
		attribute.String("verdict", string(out.Verdict)),
		attribute.String("action", string(out.Action)),
	)
	e.telemetry.RecordEvaluated(ctx, r.Provider, string(r.Kind), string(out.Action))
	return out, true
}

func (e *Engine) evaluate(ctx context.Context, t task, logger zerolog.Logger) (resource.Outcome, bool) {
	r := t.resource

	if r.Kind == resource.KindInstance && r.Name == "" {
		err := &UnnamedResourceError{Ref: r.Ref()}
		logger.Warn().Ctx(ctx).Err(err).Msg("anomaly: instance has no name, never acting on it")
		return invalid(r, err), true
	}

	if r.Tags == nil {
		tags, err := t.actor.Tags(ctx, r.Ref())
		if err != nil {
			logger.Error().Ctx(ctx).Err(err).Msg("tag read failed")
			return resource.Outcome{
				Resource: r,
				Verdict:  resource.VerdictInvalid,
				Action:   resource.ActionFailed,
				Reason:   "could not read tags",
				Err:      fmt.Errorf("read tags: %w", err),
			}, true
		}
		if tags == nil {
			tags = map[string]string{}
		}
		r.Tags = tags
	}

	if !e.filter.ShouldIncludeResource(r) {
		logger.Debug().Ctx(ctx).Msg("excluded by tag filter")
		return resource.Outcome{}, false
	}

	d := e.policy.Evaluate(ctx, r, t.refs)
	if d.Verdict == resource.VerdictEligible && r.Kind == resource.KindInstance {
		locked, err := t.actor.Locked(ctx, r.Ref())
		if err != nil {
			logger.Error().Ctx(ctx).Err(err).Msg("lock check failed")
			return resource.Outcome{
				Resource: r,
				Verdict:  resource.VerdictInvalid,
				Action:   resource.ActionFailed,
				Reason:   "could not read termination protection",
				Err:      fmt.Errorf("read lock: %w", err),
			}, true
		}
		if locked {
			r.Locked = true
			d = e.policy.Evaluate(ctx, r, t.refs)
		}
	}

	out := resource.Outcome{Resource: r, Verdict: d.Verdict, Reason: d.Reason}
	switch d.Verdict {
	case resource.VerdictProtected:
		out.Action = resource.ActionSkippedProtected
		return out, true
	case resource.VerdictAlreadyInactive:
		if keys := e.tracker.DiscoveryKeys(r.Tags); len(keys) > 0 {
			e.unsetTags(ctx, t, r, keys, "instance already inactive", logger)
		}
		out.Action = resource.ActionSkippedInactive
		return out, true
	case resource.VerdictLocked:
		out.Action = resource.ActionSkippedLocked
		return out, true
	case resource.VerdictReferenced:
		out.Action = resource.ActionSkippedReferenced
		return out, true
	}

	switch r.Kind {
	case resource.KindInstance:
		return e.processInstance(ctx, t, r, logger), true
	case resource.KindVolume:
		return e.processStorage(ctx, t, r, e.volumes, logger), true
	case resource.KindSnapshot:
		return e.processStorage(ctx, t, r, e.snapshots, logger), true
	}
	return invalid(r, fmt.Errorf("unsupported kind %q", r.Kind)), true
}

func (e *Engine) processInstance(ctx context.Context, t task, r resource.Resource, logger zerolog.Logger) resource.Outcome {
	check := e.tracker.Check(r.Tags)
	for _, m := range check.Malformed {
		logger.Warn().Ctx(ctx).Err(m).Msg("malformed discovery tag")
	}
	if stale := check.StaleKeys(); len(stale) > 0 {
		res := e.executor.Execute(ctx, t.actor, executor.Request{
			Op:       resource.OpTagUnset,
			Resource: r,
			Keys:     stale,
			Reason:   "duplicate or malformed discovery tags",
		})
		if res.Status == executor.StatusFailed {
			return failed(r, resource.VerdictInvalid, resource.OpTagUnset, res.Err)
		}
	}

	switch check.Status {
	case expiry.StatusUntagged:
		key, value := e.tracker.Stamp()
		res := e.executor.Execute(ctx, t.actor, executor.Request{
			Op:       resource.OpTagSet,
			Resource: r,
			Tags:     map[string]string{key: value},
			Reason:   "first seen",
		})
		if res.Status == executor.StatusFailed {
			return failed(r, resource.VerdictUntagged, resource.OpTagSet, res.Err)
		}
		return resource.Outcome{
			Resource: r,
			Verdict:  resource.VerdictUntagged,
			Action:   resource.ActionTagged,
			Op:       resource.OpTagSet,
			Reason:   "discovery tag set",
		}

	case expiry.StatusFresh:
		return resource.Outcome{
			Resource: r,
			Verdict:  resource.VerdictFresh,
			Action:   resource.ActionSkippedFresh,
			Reason:   fmt.Sprintf("discovered %s ago, ttl %s", check.Age, e.tracker.TTL()),
		}
	}

	if r.State != resource.StateRunning {
		return resource.Outcome{
			Resource: r,
			Verdict:  resource.VerdictExpired,
			Action:   resource.ActionSkippedTransitioning,
			Reason:   "instance is " + string(r.State),
		}
	}

	op := e.opts.InstanceAction
	reason := fmt.Sprintf("discovered %s ago, ttl %s", check.Age, e.tracker.TTL())
	out := e.destroy(ctx, t, r, op, reason, logger)
	if out.Action == resource.ActionDestroyed && !out.DryRun {
		if keys := e.tracker.DiscoveryKeys(r.Tags); len(keys) > 0 {
			e.unsetTags(ctx, t, r, keys, "instance "+string(op), logger)
		}
	}
	return out
}

func (e *Engine) processStorage(ctx context.Context, t task, r resource.Resource, rule *expiry.AgeRule, logger zerolog.Logger) resource.Outcome {
	status, age, err := rule.Check(r.CreatedAt)
	if err != nil {
		logger.Warn().Ctx(ctx).Err(err).Msg("cannot determine age")
		return invalid(r, err)
	}

	if status == expiry.StatusTooYoung {
		return resource.Outcome{
			Resource: r,
			Verdict:  resource.VerdictTooYoung,
			Action:   resource.ActionSkippedTooYoung,
			Reason:   fmt.Sprintf("created %s ago, threshold %s", age, rule.Threshold()),
		}
	}

	if r.Kind == resource.KindVolume && r.State != resource.StateAvailable {
		return resource.Outcome{
			Resource: r,
			Verdict:  resource.VerdictExpired,
			Action:   resource.ActionSkippedInUse,
			Reason:   "volume is " + string(r.State),
		}
	}

	reason := fmt.Sprintf("created %s ago, threshold %s", age, rule.Threshold())
	return e.destroy(ctx, t, r, resource.OpDelete, reason, logger)
}

// destroy dispatches a destructive op and maps the executor result onto an
// outcome. A successful real destruction is announced to the notifier.
func (e *Engine) destroy(ctx context.Context, t task, r resource.Resource, op resource.Op, reason string, logger zerolog.Logger) resource.Outcome {
	res := e.executor.Execute(ctx, t.actor, executor.Request{
		Op:       op,
		Resource: r,
		Reason:   reason,
		Refs:     t.refs,
	})

	out := resource.Outcome{Resource: r, Verdict: resource.VerdictExpired, Op: op, Reason: reason}
	switch res.Status {
	case executor.StatusDryRun:
		out.Action = resource.ActionDestroyed
		out.DryRun = true
	case executor.StatusSuccess:
		out.Action = resource.ActionDestroyed
		e.notify(ctx, t.runID, r, op, reason, logger)
	case executor.StatusFailed:
		return failed(r, resource.VerdictExpired, op, res.Err)
	case executor.StatusSkipped:
		out.Op = ""
		out.Reason = res.SkipReason
		out.Action = skippedAction(r.Kind, res.Verdict)
		if res.Verdict != "" {
			out.Verdict = res.Verdict
		}
	}
	return out
}

// skippedAction maps a pre-flight refusal onto the matching skip.
func skippedAction(kind resource.Kind, v resource.Verdict) resource.Action {
	switch v {
	case resource.VerdictProtected:
		return resource.ActionSkippedProtected
	case resource.VerdictLocked:
		return resource.ActionSkippedLocked
	case resource.VerdictReferenced:
		return resource.ActionSkippedReferenced
	case resource.VerdictAlreadyInactive:
		return resource.ActionSkippedInactive
	}
	if kind == resource.KindVolume {
		return resource.ActionSkippedInUse
	}
	return resource.ActionSkippedTransitioning
}

func (e *Engine) unsetTags(ctx context.Context, t task, r resource.Resource, keys []string, reason string, logger zerolog.Logger) {
	res := e.executor.Execute(ctx, t.actor, executor.Request{
		Op:       resource.OpTagUnset,
		Resource: r,
		Keys:     keys,
		Reason:   reason,
	})
	if res.Status == executor.StatusFailed {
		logger.Warn().Ctx(ctx).Err(res.Err).Strs("keys", keys).Msg("discovery tag cleanup failed")
	}
}

func (e *Engine) notify(ctx context.Context, runID string, r resource.Resource, op resource.Op, reason string, logger zerolog.Logger) {
	n := notify.Notice{
		Resource: r,
		Op:       op,
		Reason:   reason,
		RunID:    runID,
		Time:     e.now().UTC(),
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		logger.Warn().Ctx(ctx).Err(err).Msg("notification failed")
	}
}

func invalid(r resource.Resource, err error) resource.Outcome {
	return resource.Outcome{
		Resource: r,
		Verdict:  resource.VerdictInvalid,
		Action:   resource.ActionSkippedInvalid,
		Reason:   err.Error(),
		Err:      err,
	}
}

func failed(r resource.Resource, v resource.Verdict, op resource.Op, err error) resource.Outcome {
	reason := "action failed"
	var aerr *executor.ActionError
	if errors.As(err, &aerr) {
		reason = aerr.Err.Error()
	}
	return resource.Outcome{
		Resource: r,
		Verdict:  v,
		Action:   resource.ActionFailed,
		Op:       op,
		Reason:   reason,
		Err:      err,
	}
}
