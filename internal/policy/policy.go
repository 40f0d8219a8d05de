// Package policy decides whether a resource may be touched at all.
//
// Evaluation order is fixed and the first match wins:
// PROTECTED > ALREADY_INACTIVE > LOCKED > REFERENCED > ELIGIBLE.
package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/internal/expiry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Field is a resource attribute safe words are matched against.
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldTags        Field = "tags"
)

// Rules is the protection configuration for one resource kind.
type Rules struct {
	SafeWords    []string
	MatchFields  []Field
	NamePatterns []*regexp.Regexp
}

// NewRules compiles a kind policy from configuration.
func NewRules(kp config.KindPolicy) (Rules, error) {
	r := Rules{}
	for _, w := range kp.SafeWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			r.SafeWords = append(r.SafeWords, w)
		}
	}
	for _, f := range kp.MatchFields {
		switch Field(f) {
		case FieldName, FieldDescription, FieldTags:
			r.MatchFields = append(r.MatchFields, Field(f))
		default:
			return Rules{}, fmt.Errorf("unknown match field %q", f)
		}
	}
	for _, p := range kp.NamePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rules{}, fmt.Errorf("compile name pattern %q: %w", p, err)
		}
		r.NamePatterns = append(r.NamePatterns, re)
	}
	return r, nil
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Verdict resource.Verdict
	Reason  string
}

// Policy evaluates protection rules. It is safe for concurrent use.
type Policy struct {
	rules     map[resource.Kind]Rules
	tagPrefix string
	rego      *Rego
	logger    zerolog.Logger
}

// New builds a Policy from configuration. tagPrefix identifies the discovery
// tag, which is never matched against safe words.
func New(cfg config.PolicyConfig, tagPrefix string) (*Policy, error) {
	p := &Policy{
		rules:     make(map[resource.Kind]Rules),
		tagPrefix: tagPrefix,
		logger:    log.With().Str("component", "policy").Logger(),
	}
	for kind, kp := range map[resource.Kind]config.KindPolicy{
		resource.KindInstance: cfg.Instance,
		resource.KindVolume:   cfg.Volume,
		resource.KindSnapshot: cfg.Snapshot,
	} {
		r, err := NewRules(kp)
		if err != nil {
			return nil, fmt.Errorf("%s rules: %w", kind, err)
		}
		p.rules[kind] = r
	}
	return p, nil
}

// WithRego attaches an optional Rego protection rule.
func (p *Policy) WithRego(r *Rego) *Policy {
	p.rego = r
	return p
}

// WithClock overrides the time source of the attached Rego rule.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	if p != nil && p.rego != nil {
		p.rego.WithClock(now)
	}
	return p
}

// Protected reports whether a safe word, name pattern or Rego rule shields r.
func (p *Policy) Protected(ctx context.Context, r resource.Resource) (bool, string) {
	rules := p.rules[r.Kind]

	for _, f := range rules.MatchFields {
		for _, text := range p.fieldValues(r, f) {
			if w, ok := containsSafeWord(text, rules.SafeWords); ok {
				return true, fmt.Sprintf("%s contains safe word %q", f, w)
			}
		}
	}

	name := strings.ToLower(r.Name)
	for _, re := range rules.NamePatterns {
		if re.MatchString(name) {
			return true, fmt.Sprintf("name matches %s", re)
		}
	}

	if p.rego != nil {
		ok, err := p.rego.Protect(ctx, r)
		if err != nil {
			p.logger.Warn().Ctx(ctx).Err(err).Str("resource", r.ID).Msg("rego evaluation failed")
		} else if ok {
			return true, "protected by rego policy"
		}
	}

	return false, ""
}

// Evaluate classifies r. refs is the reference set of r's scope; Locked must
// already be resolved on r for instances.
func (p *Policy) Evaluate(ctx context.Context, r resource.Resource, refs resource.ReferenceSet) Decision {
	if ok, reason := p.Protected(ctx, r); ok {
		return Decision{Verdict: resource.VerdictProtected, Reason: reason}
	}

	if r.Kind == resource.KindInstance {
		if r.State.Inactive() {
			return Decision{Verdict: resource.VerdictAlreadyInactive, Reason: "instance is " + string(r.State)}
		}
		if r.Locked {
			return Decision{Verdict: resource.VerdictLocked, Reason: "termination protection enabled"}
		}
	}

	if (r.Kind == resource.KindVolume || r.Kind == resource.KindSnapshot) && refs.Has(r.ID) {
		return Decision{Verdict: resource.VerdictReferenced, Reason: "referenced by an image"}
	}

	return Decision{Verdict: resource.VerdictEligible}
}

func (p *Policy) fieldValues(r resource.Resource, f Field) []string {
	switch f {
	case FieldName:
		return []string{r.Name}
	case FieldDescription:
		return []string{r.Description}
	case FieldTags:
		vals := make([]string, 0, 2*len(r.Tags))
		for k, v := range r.Tags {
			if expiry.IsDiscoveryKey(p.tagPrefix, k) {
				continue
			}
			vals = append(vals, k, v)
		}
		return vals
	}
	return nil
}

func containsSafeWord(text string, words []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}
