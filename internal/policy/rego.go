package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/siivous/pkg/resource"
)

// RegoQuery is the rule a protection module must define.
const RegoQuery = "data.siivous.protect"

// Rego evaluates a user supplied Rego module. A resource is protected when
// the module's protect rule evaluates to true.
type Rego struct {
	query rego.PreparedEvalQuery
	now   func() time.Time
}

// RegoInput is the document exposed to the module as input.
type RegoInput struct {
	Resource  resource.Resource `json:"resource"`
	AgeHours  int64             `json:"age_hours"`
	Timestamp time.Time         `json:"timestamp"`
}

// LoadRego compiles the module stored at path.
func LoadRego(ctx context.Context, path string) (*Rego, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego module: %w", err)
	}
	return NewRego(ctx, filepath.Base(path), string(src))
}

// NewRego compiles a module from source.
func NewRego(ctx context.Context, name, src string) (*Rego, error) {
	query, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module(name, src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego %s: %w", name, err)
	}
	return &Rego{query: query, now: time.Now}, nil
}

// WithClock overrides the time source behind age_hours and timestamp.
func (g *Rego) WithClock(now func() time.Time) *Rego {
	g.now = now
	return g
}

// Protect evaluates the module for r.
func (g *Rego) Protect(ctx context.Context, r resource.Resource) (bool, error) {
	now := g.now().UTC()
	input := RegoInput{Resource: r, Timestamp: now}
	if !r.CreatedAt.IsZero() {
		input.AgeHours = int64(now.Sub(r.CreatedAt).Hours())
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval %s: %w", RegoQuery, err)
	}
	return results.Allowed(), nil
}
