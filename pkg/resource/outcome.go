package resource

// Verdict is the classification a resource receives during a sweep.
type Verdict string

const (
	VerdictProtected       Verdict = "PROTECTED"
	VerdictLocked          Verdict = "LOCKED"
	VerdictReferenced      Verdict = "REFERENCED"
	VerdictEligible        Verdict = "ELIGIBLE"
	VerdictTooYoung        Verdict = "TOO_YOUNG"
	VerdictUntagged        Verdict = "UNTAGGED"
	VerdictFresh           Verdict = "FRESH"
	VerdictExpired         Verdict = "EXPIRED"
	VerdictAlreadyInactive Verdict = "ALREADY_INACTIVE"
	VerdictInvalid         Verdict = "INVALID"
)

// Action is the terminal state a resource reaches in a sweep.
type Action string

const (
	ActionSkippedInvalid       Action = "SKIPPED_INVALID"
	ActionSkippedProtected     Action = "SKIPPED_PROTECTED"
	ActionSkippedLocked        Action = "SKIPPED_LOCKED"
	ActionSkippedReferenced    Action = "SKIPPED_REFERENCED"
	ActionSkippedInactive      Action = "SKIPPED_INACTIVE"
	ActionSkippedTooYoung      Action = "SKIPPED_TOO_YOUNG"
	ActionSkippedFresh         Action = "SKIPPED_FRESH"
	ActionSkippedInUse         Action = "SKIPPED_IN_USE"
	ActionSkippedTransitioning Action = "SKIPPED_TRANSITIONING"
	ActionTagged               Action = "TAGGED"
	ActionDestroyed            Action = "DESTROYED"
	ActionFailed               Action = "ACTION_FAILED"
)

// Skipped reports whether the action left the resource untouched.
func (a Action) Skipped() bool {
	return a != ActionTagged && a != ActionDestroyed && a != ActionFailed
}

// Op is a mutating provider operation.
type Op string

const (
	OpStop      Op = "stop"
	OpTerminate Op = "terminate"
	OpDelete    Op = "delete"
	OpTagSet    Op = "tag_set"
	OpTagUnset  Op = "tag_unset"
)

// Destructive reports whether the op removes or halts the resource.
func (o Op) Destructive() bool {
	return o == OpStop || o == OpTerminate || o == OpDelete
}

// Outcome is the recorded result for one evaluated resource.
type Outcome struct {
	Resource Resource `json:"resource"`
	Verdict  Verdict  `json:"verdict"`
	Action   Action   `json:"action"`
	Op       Op       `json:"op,omitempty"`
	DryRun   bool     `json:"dry_run"`
	Reason   string   `json:"reason,omitempty"`
	Err      error    `json:"-"`
}

// ErrString returns the error text, or "" when the outcome succeeded.
func (o Outcome) ErrString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
