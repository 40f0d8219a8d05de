// Package report collects sweep outcomes and renders them.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/yairfalse/siivous/pkg/resource"
)

// Report is the result of one sweep.
type Report struct {
	RunID       string             `json:"run_id"`
	Started     time.Time          `json:"started"`
	Duration    time.Duration      `json:"duration"`
	DryRun      bool               `json:"dry_run"`
	Interrupted bool               `json:"interrupted"`
	Unevaluated int                `json:"unevaluated"`
	Scopes      []string           `json:"scopes"`
	Outcomes    []resource.Outcome `json:"-"`
	// DiscoveryErrors are the listing failures that left the catalog partial.
	DiscoveryErrors []error `json:"-"`
}

// Summary counts outcomes per action.
type Summary struct {
	Total     int                     `json:"total"`
	Destroyed int                     `json:"destroyed"`
	Tagged    int                     `json:"tagged"`
	Failed    int                     `json:"failed"`
	Skipped   int                     `json:"skipped"`
	ByAction  map[resource.Action]int `json:"by_action"`
}

// Summary computes the per-action counts.
func (r *Report) Summary() Summary {
	s := Summary{ByAction: make(map[resource.Action]int)}
	for _, o := range r.Outcomes {
		s.Total++
		s.ByAction[o.Action]++
		switch o.Action {
		case resource.ActionDestroyed:
			s.Destroyed++
		case resource.ActionTagged:
			s.Tagged++
		case resource.ActionFailed:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	return s
}

// Actions returns the distinct actions present, sorted.
func (s Summary) Actions() []resource.Action {
	actions := make([]resource.Action, 0, len(s.ByAction))
	for a := range s.ByAction {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Sink receives outcomes from concurrent tasks and keeps them ordered by
// scope, kind, name and id.
type Sink struct {
	mu   sync.Mutex
	tree *btree.BTreeG[resource.Outcome]
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{tree: btree.NewG(16, less)}
}

func less(a, b resource.Outcome) bool {
	ra, rb := a.Resource, b.Resource
	if sa, sb := ra.Scope().ID(), rb.Scope().ID(); sa != sb {
		return sa < sb
	}
	if ra.Kind != rb.Kind {
		return kindOrder(ra.Kind) < kindOrder(rb.Kind)
	}
	if na, nb := ra.DisplayName(), rb.DisplayName(); na != nb {
		return na < nb
	}
	return ra.ID < rb.ID
}

func kindOrder(k resource.Kind) int {
	for i, kind := range resource.Kinds {
		if kind == k {
			return i
		}
	}
	return len(resource.Kinds)
}

// Record stores an outcome. A second outcome for the same resource
// replaces the first.
func (s *Sink) Record(o resource.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(o)
}

// Outcomes returns every outcome in order.
func (s *Sink) Outcomes() []resource.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resource.Outcome, 0, s.tree.Len())
	s.tree.Ascend(func(o resource.Outcome) bool {
		out = append(out, o)
		return true
	})
	return out
}
