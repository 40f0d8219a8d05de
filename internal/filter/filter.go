// Package filter narrows a sweep to selected scopes, kinds and tags.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/siivous/pkg/resource"
)

// Filter controls which resource kinds are swept and which resources are included.
type Filter struct {
	excludeKinds map[resource.Kind]bool
	includeTags  map[string]string
	excludeTags  map[string]string
}

// New creates a new Filter from the provided configuration.
func New(excludeKinds []string, includeTags, excludeTags map[string]string) (*Filter, error) {
	excludeMap := make(map[resource.Kind]bool)
	for _, k := range excludeKinds {
		kind, ok := resource.ParseKind(k)
		if !ok || kind == resource.KindImage {
			return nil, fmt.Errorf("unknown resource kind %q", k)
		}
		excludeMap[kind] = true
	}

	return &Filter{
		excludeKinds: excludeMap,
		includeTags:  includeTags,
		excludeTags:  excludeTags,
	}, nil
}

// ShouldSweepKind returns true if the given kind should be swept.
func (f *Filter) ShouldSweepKind(kind resource.Kind) bool {
	if f == nil {
		return true
	}
	return !f.excludeKinds[kind]
}

// ShouldIncludeResource returns true if the resource passes tag filters.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	if f == nil {
		return true
	}

	// Check include tags (whitelist) - ALL must match
	for k, v := range f.includeTags {
		if r.Tags == nil || r.Tags[k] != v {
			return false
		}
	}

	// Check exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if r.Tags != nil && r.Tags[k] == v {
			return false
		}
	}

	return true
}

// HasTagFilters reports whether include or exclude tags are configured.
func (f *Filter) HasTagFilters() bool {
	return f != nil && (len(f.includeTags) > 0 || len(f.excludeTags) > 0)
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.excludeKinds) == 0 && !f.HasTagFilters())
}

// ScopeSelector matches scopes against --scope values: "all",
// "aws/<region>", "azure/<subscription>" or a bare AWS region.
type ScopeSelector struct {
	all bool
	ids map[string]bool
}

// ParseScopes builds a selector. An empty list selects everything.
func ParseScopes(values []string) (*ScopeSelector, error) {
	s := &ScopeSelector{ids: make(map[string]bool)}
	if len(values) == 0 {
		s.all = true
		return s, nil
	}

	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			switch {
			case v == "":
				continue
			case strings.EqualFold(v, "all"):
				s.all = true
			case strings.Contains(v, "/"):
				provider, rest, _ := strings.Cut(v, "/")
				provider = strings.ToLower(provider)
				if provider != "aws" && provider != "azure" {
					return nil, fmt.Errorf("unknown provider %q in scope %q", provider, v)
				}
				if rest == "" {
					return nil, fmt.Errorf("empty scope %q", v)
				}
				s.ids[provider+"/"+rest] = true
			default:
				s.ids["aws/"+v] = true
			}
		}
	}

	if !s.all && len(s.ids) == 0 {
		return nil, fmt.Errorf("no scope selected")
	}
	return s, nil
}

// All reports whether every scope is selected.
func (s *ScopeSelector) All() bool { return s.all }

// Match reports whether scope is selected.
func (s *ScopeSelector) Match(scope resource.Scope) bool {
	return s.all || s.ids[scope.ID()]
}

// Unmatched returns the selected scope IDs that match none of scopes,
// sorted. It is always empty for "all".
func (s *ScopeSelector) Unmatched(scopes []resource.Scope) []string {
	if s.all {
		return nil
	}
	known := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		known[sc.ID()] = true
	}
	var missing []string
	for id := range s.ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
