// Package plugintest provides an in-memory plugin for tests.
package plugintest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Call records one Actor invocation.
type Call struct {
	Method string
	Ref    resource.Ref
	Tags   map[string]string
	Keys   []string
}

// Mutating reports whether the call changes provider state.
func (c Call) Mutating() bool {
	switch c.Method {
	case "SetTags", "UnsetTags", "Stop", "Terminate", "Delete":
		return true
	}
	return false
}

// Fake is an in-memory plugin serving one scope.
type Fake struct {
	name  string
	scope resource.Scope

	mu        sync.Mutex
	order     []string
	resources map[string]*resource.Resource
	images    []resource.Image
	locked    map[string]bool
	calls     []Call
	listErrs  map[resource.Kind]error
	opErrs    map[string]error

	// Delay is slept inside every Actor call.
	Delay time.Duration
	// OmitListingTags makes List calls return resources without tags so
	// callers must use Tags.
	OmitListingTags bool
	// OnRefresh, when set, may modify the stored resource before Refresh
	// returns it.
	OnRefresh func(r *resource.Resource)

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

var _ plugin.Plugin = (*Fake)(nil)

// New creates an empty fake for scope.
func New(scope resource.Scope) *Fake {
	return &Fake{
		name:      scope.Provider,
		scope:     scope,
		resources: make(map[string]*resource.Resource),
		locked:    make(map[string]bool),
		listErrs:  make(map[resource.Kind]error),
		opErrs:    make(map[string]error),
	}
}

// Add stores resources, filling in the scope fields.
func (f *Fake) Add(rs ...resource.Resource) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rs {
		r.Provider = f.scope.Provider
		r.Account = f.scope.Account
		r.Region = f.scope.Region
		if r.Tags == nil {
			r.Tags = make(map[string]string)
		}
		if _, ok := f.resources[r.ID]; !ok {
			f.order = append(f.order, r.ID)
		}
		cp := r
		cp.Tags = maps.Clone(r.Tags)
		f.resources[r.ID] = &cp
	}
	return f
}

// AddImage stores an image.
func (f *Fake) AddImage(img resource.Image) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	img.Scope = f.scope
	f.images = append(f.images, img)
	return f
}

// SetLocked marks a resource as termination protected.
func (f *Fake) SetLocked(id string, locked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[id] = locked
}

// FailList makes listing of kind fail with err.
func (f *Fake) FailList(kind resource.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErrs[kind] = err
}

// FailOp makes method fail for id with err.
func (f *Fake) FailOp(method, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opErrs[method+"/"+id] = err
}

// Calls returns every recorded Actor call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// MutatingCalls returns the recorded calls that change state.
func (f *Fake) MutatingCalls() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Mutating() {
			out = append(out, c)
		}
	}
	return out
}

// CallsFor returns the calls made for one resource.
func (f *Fake) CallsFor(id string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Ref.ID == id {
			out = append(out, c)
		}
	}
	return out
}

// MaxInFlight returns the highest number of concurrent Actor calls seen.
func (f *Fake) MaxInFlight() int64 {
	return f.maxInFlight.Load()
}

// Get returns a copy of a stored resource.
func (f *Fake) Get(id string) (resource.Resource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[id]
	if !ok {
		return resource.Resource{}, false
	}
	cp := *r
	cp.Tags = maps.Clone(r.Tags)
	return cp, true
}

// Name implements plugin.Plugin.
func (f *Fake) Name() string { return f.name }

// Scope implements plugin.Catalog.
func (f *Fake) Scope() resource.Scope { return f.scope }

func (f *Fake) list(kind resource.Kind) ([]resource.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrs[kind]; err != nil {
		return nil, err
	}
	var out []resource.Resource
	for _, id := range f.order {
		r, ok := f.resources[id]
		if !ok || r.Kind != kind {
			continue
		}
		cp := *r
		cp.Locked = false
		if f.OmitListingTags {
			cp.Tags = nil
		} else {
			cp.Tags = maps.Clone(r.Tags)
		}
		out = append(out, cp)
	}
	return out, nil
}

// ListInstances implements plugin.Catalog.
func (f *Fake) ListInstances(_ context.Context) ([]resource.Resource, error) {
	return f.list(resource.KindInstance)
}

// ListVolumes implements plugin.Catalog.
func (f *Fake) ListVolumes(_ context.Context) ([]resource.Resource, error) {
	return f.list(resource.KindVolume)
}

// ListSnapshots implements plugin.Catalog.
func (f *Fake) ListSnapshots(_ context.Context) ([]resource.Resource, error) {
	return f.list(resource.KindSnapshot)
}

// ListImages implements plugin.Catalog.
func (f *Fake) ListImages(_ context.Context) ([]resource.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrs[resource.KindImage]; err != nil {
		return nil, err
	}
	return append([]resource.Image(nil), f.images...), nil
}

// enter records a call and returns the stored resource for mutation.
func (f *Fake) enter(ctx context.Context, c Call) (*resource.Resource, func(), error) {
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	leave := func() { f.inFlight.Add(-1) }

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			leave()
			return nil, func() {}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.opErrs[c.Method+"/"+c.Ref.ID]
	r, ok := f.resources[c.Ref.ID]
	f.mu.Unlock()

	if err != nil {
		leave()
		return nil, func() {}, err
	}
	if !ok {
		leave()
		return nil, func() {}, fmt.Errorf("%s %s: %w", c.Method, c.Ref.ID, plugin.ErrNotFound)
	}
	return r, leave, nil
}

// Tags implements plugin.Actor.
func (f *Fake) Tags(ctx context.Context, ref resource.Ref) (map[string]string, error) {
	r, leave, err := f.enter(ctx, Call{Method: "Tags", Ref: ref})
	defer leave()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(r.Tags), nil
}

// SetTags implements plugin.Actor.
func (f *Fake) SetTags(ctx context.Context, ref resource.Ref, tags map[string]string) error {
	r, leave, err := f.enter(ctx, Call{Method: "SetTags", Ref: ref, Tags: maps.Clone(tags)})
	defer leave()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	maps.Copy(r.Tags, tags)
	return nil
}

// UnsetTags implements plugin.Actor.
func (f *Fake) UnsetTags(ctx context.Context, ref resource.Ref, keys []string) error {
	r, leave, err := f.enter(ctx, Call{Method: "UnsetTags", Ref: ref, Keys: append([]string(nil), keys...)})
	defer leave()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(r.Tags, k)
	}
	return nil
}

func (f *Fake) setState(ctx context.Context, method string, ref resource.Ref, state resource.State) error {
	r, leave, err := f.enter(ctx, Call{Method: method, Ref: ref})
	defer leave()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r.State = state
	r.RawState = string(state)
	return nil
}

// Stop implements plugin.Actor.
func (f *Fake) Stop(ctx context.Context, ref resource.Ref) error {
	return f.setState(ctx, "Stop", ref, resource.StateStopped)
}

// Terminate implements plugin.Actor.
func (f *Fake) Terminate(ctx context.Context, ref resource.Ref) error {
	return f.setState(ctx, "Terminate", ref, resource.StateTerminated)
}

// Delete implements plugin.Actor.
func (f *Fake) Delete(ctx context.Context, ref resource.Ref) error {
	_, leave, err := f.enter(ctx, Call{Method: "Delete", Ref: ref})
	defer leave()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resources, ref.ID)
	return nil
}

// Locked implements plugin.Actor.
func (f *Fake) Locked(ctx context.Context, ref resource.Ref) (bool, error) {
	_, leave, err := f.enter(ctx, Call{Method: "Locked", Ref: ref})
	defer leave()
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[ref.ID], nil
}

// Refresh implements plugin.Actor.
func (f *Fake) Refresh(ctx context.Context, ref resource.Ref) (resource.Resource, error) {
	r, leave, err := f.enter(ctx, Call{Method: "Refresh", Ref: ref})
	defer leave()
	if err != nil {
		return resource.Resource{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OnRefresh != nil {
		f.OnRefresh(r)
	}
	cp := *r
	cp.Tags = maps.Clone(r.Tags)
	cp.Locked = f.locked[ref.ID]
	return cp, nil
}
