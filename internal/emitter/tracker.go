package emitter

import (
	"sync"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ChangeType classifies how a resource's outcome moved between sweeps.
type ChangeType string

const (
	ChangeAppeared ChangeType = "appeared"
	ChangeGone     ChangeType = "gone"
	ChangeAction   ChangeType = "action_changed"
)

// OutcomeChange is one difference between consecutive sweeps.
type OutcomeChange struct {
	Type     ChangeType
	Outcome  resource.Outcome
	Previous resource.Action
}

// OutcomeTracker remembers the last action per resource and reports how
// the next sweep differs.
type OutcomeTracker struct {
	mu          sync.RWMutex
	previous    map[string]resource.Outcome
	initialized bool
}

// NewOutcomeTracker creates an empty tracker.
func NewOutcomeTracker() *OutcomeTracker {
	return &OutcomeTracker{previous: make(map[string]resource.Outcome)}
}

// Compare returns the changes against the previous sweep.
// Returns nil on the first sweep (baseline).
func (t *OutcomeTracker) Compare(current []resource.Outcome) []OutcomeChange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.initialized {
		return nil
	}

	seen := make(map[string]struct{}, len(current))
	changes := make([]OutcomeChange, 0)
	for _, o := range current {
		key := resource.Key(o.Resource)
		seen[key] = struct{}{}

		prev, ok := t.previous[key]
		switch {
		case !ok:
			changes = append(changes, OutcomeChange{Type: ChangeAppeared, Outcome: o})
		case prev.Action != o.Action:
			changes = append(changes, OutcomeChange{Type: ChangeAction, Outcome: o, Previous: prev.Action})
		}
	}
	for key, prev := range t.previous {
		if _, ok := seen[key]; !ok {
			changes = append(changes, OutcomeChange{Type: ChangeGone, Outcome: prev, Previous: prev.Action})
		}
	}
	return changes
}

// Update stores current as the baseline for the next Compare.
func (t *OutcomeTracker) Update(current []resource.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.previous = make(map[string]resource.Outcome, len(current))
	for _, o := range current {
		t.previous[resource.Key(o.Resource)] = o
	}
	t.initialized = true
}
