// Package plugin defines the cloud provider plugin interfaces for siivous.
package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ErrNotFound is returned by Actor methods when the resource no longer exists.
var ErrNotFound = errors.New("resource not found")

// Catalog lists the resources of one scope. Every List call must return
// current state; nothing is cached between sweeps.
type Catalog interface {
	Scope() resource.Scope
	ListInstances(ctx context.Context) ([]resource.Resource, error)
	ListVolumes(ctx context.Context) ([]resource.Resource, error)
	ListSnapshots(ctx context.Context) ([]resource.Resource, error)
	ListImages(ctx context.Context) ([]resource.Image, error)
}

// Actor reads and mutates single resources.
type Actor interface {
	Tags(ctx context.Context, ref resource.Ref) (map[string]string, error)
	SetTags(ctx context.Context, ref resource.Ref, tags map[string]string) error
	UnsetTags(ctx context.Context, ref resource.Ref, keys []string) error
	Stop(ctx context.Context, ref resource.Ref) error
	Terminate(ctx context.Context, ref resource.Ref) error
	Delete(ctx context.Context, ref resource.Ref) error

	// Locked reports whether the platform refuses destructive actions on
	// the resource (termination protection or equivalent).
	Locked(ctx context.Context, ref resource.Ref) (bool, error)

	// Refresh re-reads one resource. It returns ErrNotFound when gone.
	Refresh(ctx context.Context, ref resource.Ref) (resource.Resource, error)
}

// Plugin is the interface all cloud provider plugins must implement.
// One plugin instance serves exactly one scope.
type Plugin interface {
	// Name returns the provider identifier (e.g., "aws", "azure")
	Name() string
	Catalog
	Actor
}

// Registry holds registered plugins keyed by scope ID.
var (
	registry = make(map[string]Plugin)
	mu       sync.RWMutex
)

// Register adds a plugin to the registry.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Scope().ID()] = p
}

// All returns all registered plugins ordered by scope ID.
func All() []Plugin {
	mu.RLock()
	defer mu.RUnlock()
	plugins := make([]Plugin, 0, len(registry))
	for _, p := range registry {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Scope().ID() < plugins[j].Scope().ID()
	})
	return plugins
}

// Names returns all registered scope IDs, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all plugins from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Plugin)
}
