package executor

import (
	"context"
	"fmt"

	"github.com/yairfalse/siivous/internal/policy"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Preflight is the state a safety check inspects: the resource as the sweep
// discovered it and as the provider reports it now.
type Preflight struct {
	Request Request
	Current resource.Resource
}

// SafetyCheckFunc represents a single safety check function
type SafetyCheckFunc func(ctx context.Context, pf Preflight) SafetyCheck

// SafetyChecker runs the checks that gate a destructive op.
type SafetyChecker struct {
	checks []SafetyCheckFunc
}

// NewSafetyChecker creates a checker with the standard checks. pol may be
// nil, in which case protection is not re-evaluated.
func NewSafetyChecker(pol *policy.Policy) *SafetyChecker {
	checks := []SafetyCheckFunc{checkReason, checkState}
	if pol != nil {
		checks = append(checks, checkPolicy(pol))
	}
	return &SafetyChecker{checks: checks}
}

// CheckSafety runs all safety checks
func (sc *SafetyChecker) CheckSafety(ctx context.Context, pf Preflight) []SafetyCheck {
	results := make([]SafetyCheck, 0, len(sc.checks))
	for _, checkFunc := range sc.checks {
		results = append(results, checkFunc(ctx, pf))
	}
	return results
}

// Blocking returns the first failed critical check.
func Blocking(checks []SafetyCheck) (SafetyCheck, bool) {
	for _, c := range checks {
		if !c.Passed && c.Severity == SeverityCritical {
			return c, true
		}
	}
	return SafetyCheck{}, false
}

func checkReason(_ context.Context, pf Preflight) SafetyCheck {
	check := SafetyCheck{Name: "reason_check", Passed: true, Severity: SeverityWarning}
	if pf.Request.Reason == "" {
		check.Passed = false
		check.Message = fmt.Sprintf("%s on %s has no recorded reason", pf.Request.Op, pf.Request.Resource.ID)
	}
	return check
}

// checkState verifies the resource is still in a state the op applies to.
func checkState(_ context.Context, pf Preflight) SafetyCheck {
	check := SafetyCheck{Name: "state_check", Passed: true, Severity: SeverityCritical}

	switch pf.Current.Kind {
	case resource.KindInstance:
		if pf.Current.State != resource.StateRunning {
			check.Passed = false
			check.Message = fmt.Sprintf("instance is %s, no longer running", pf.Current.State)
		}
	case resource.KindVolume:
		if pf.Current.State != resource.StateAvailable {
			check.Passed = false
			check.Message = fmt.Sprintf("volume is %s, no longer available", pf.Current.State)
		}
	}
	return check
}

// checkPolicy re-runs protection on the fresh record. A resource that was
// renamed, retagged or locked after discovery is caught here.
func checkPolicy(pol *policy.Policy) SafetyCheckFunc {
	return func(ctx context.Context, pf Preflight) SafetyCheck {
		check := SafetyCheck{Name: "policy_check", Passed: true, Severity: SeverityCritical}

		d := pol.Evaluate(ctx, pf.Current, pf.Request.Refs)
		if d.Verdict != resource.VerdictEligible {
			check.Passed = false
			check.Verdict = d.Verdict
			check.Message = string(d.Verdict)
			if d.Reason != "" {
				check.Message += ": " + d.Reason
			}
		}
		return check
	}
}
