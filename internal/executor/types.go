package executor

import (
	"fmt"
	"time"

	"github.com/yairfalse/siivous/pkg/resource"
)

// Status is the outcome of one Execute call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDryRun  Status = "dry_run"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Request describes one mutation.
type Request struct {
	Op       resource.Op
	Resource resource.Resource
	// Tags is the tag set written by OpTagSet.
	Tags map[string]string
	// Keys are the tag keys removed by OpTagUnset.
	Keys   []string
	Reason string
	// Refs is the reference set of the resource's scope, used when the
	// protection policy is re-run before a destructive op.
	Refs resource.ReferenceSet
}

// Result is what happened to a Request.
type Result struct {
	Status     Status `json:"status"`
	Err        error  `json:"-"`
	SkipReason string `json:"skip_reason,omitempty"`
	// Verdict is set when the policy check blocked a destructive op.
	Verdict  resource.Verdict `json:"verdict,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Options configure executor behavior
type Options struct {
	DryRun bool `json:"dry_run"`
	// RateLimit is the number of mutating calls allowed per second.
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
}

// ActionError wraps a failed provider mutation.
type ActionError struct {
	Op  resource.Op
	Ref resource.Ref
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Ref.Kind, e.Ref.ID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Severity indicates how critical a failed safety check is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SafetyCheck represents a pre-execution safety validation
type SafetyCheck struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message,omitempty"`
	// Verdict carries the fresh policy decision for the policy check.
	Verdict resource.Verdict `json:"verdict,omitempty"`
}

// journalRecord is the payload written for every mutation attempt.
type journalRecord struct {
	Op       resource.Op       `json:"op"`
	Kind     resource.Kind     `json:"kind"`
	Scope    string            `json:"scope"`
	Name     string            `json:"name"`
	Reason   string            `json:"reason,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Keys     []string          `json:"keys,omitempty"`
	Duration time.Duration     `json:"duration,omitempty"`
	Skip     string            `json:"skip,omitempty"`
}

func recordFor(req Request) journalRecord {
	return journalRecord{
		Op:     req.Op,
		Kind:   req.Resource.Kind,
		Scope:  req.Resource.Scope().ID(),
		Name:   req.Resource.DisplayName(),
		Reason: req.Reason,
		Tags:   req.Tags,
		Keys:   req.Keys,
	}
}
