package sweep

import (
	"errors"
	"fmt"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ErrAllScopesFailed is returned by Sweep when no selected scope could be
// discovered.
var ErrAllScopesFailed = errors.New("discovery failed in every scope")

// DiscoveryError records one failed listing. The rest of the catalog is
// still swept.
type DiscoveryError struct {
	Scope resource.Scope
	Kind  resource.Kind
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %ss in %s: %v", e.Kind, e.Scope.ID(), e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// UnnamedResourceError marks an instance without a resolvable name. It is
// skipped as invalid.
type UnnamedResourceError struct {
	Ref resource.Ref
}

func (e *UnnamedResourceError) Error() string {
	return fmt.Sprintf("%s %s in %s has no name", e.Ref.Kind, e.Ref.ID, e.Ref.Scope.ID())
}
