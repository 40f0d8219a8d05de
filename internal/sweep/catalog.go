package sweep

import (
	"context"

	"github.com/yairfalse/siivous/internal/filter"
	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

// ScopeCatalog is everything discovered in one scope. It may be partial:
// each failed listing is recorded in Errors.
type ScopeCatalog struct {
	Scope     resource.Scope
	Instances []resource.Resource
	Volumes   []resource.Resource
	Snapshots []resource.Resource
	Images    []resource.Image
	// Refs is built from Images and every listed snapshot, before any
	// kind filter is applied.
	Refs   resource.ReferenceSet
	Errors []*DiscoveryError

	attempted int
}

// Resources returns the resources to sweep, instances first.
func (c *ScopeCatalog) Resources() []resource.Resource {
	out := make([]resource.Resource, 0, len(c.Instances)+len(c.Volumes)+len(c.Snapshots))
	out = append(out, c.Instances...)
	out = append(out, c.Volumes...)
	return append(out, c.Snapshots...)
}

// Failed reports whether every listing attempted in the scope failed.
func (c *ScopeCatalog) Failed() bool {
	return c.attempted > 0 && len(c.Errors) == c.attempted
}

// Discover lists one scope. Storage is only swept when the scope's images
// could be listed, since an incomplete reference set could let a snapshot
// backing an image be deleted.
func Discover(ctx context.Context, cat plugin.Catalog, f *filter.Filter) *ScopeCatalog {
	c := &ScopeCatalog{Scope: cat.Scope(), Refs: make(resource.ReferenceSet)}

	if f.ShouldSweepKind(resource.KindInstance) {
		c.Instances, _ = list(ctx, c, resource.KindInstance, cat.ListInstances)
	}

	sweepVolumes := f.ShouldSweepKind(resource.KindVolume)
	sweepSnapshots := f.ShouldSweepKind(resource.KindSnapshot)
	if !sweepVolumes && !sweepSnapshots {
		return c
	}

	c.attempted++
	images, err := cat.ListImages(ctx)
	if err != nil {
		c.Errors = append(c.Errors, &DiscoveryError{Scope: c.Scope, Kind: resource.KindImage, Err: err})
		return c
	}
	c.Images = images

	// Snapshots are listed even when excluded: their parent volumes belong
	// in the reference set, so volumes are not swept without them either.
	snapshots, ok := list(ctx, c, resource.KindSnapshot, cat.ListSnapshots)
	if !ok {
		return c
	}
	c.Refs = resource.BuildReferences(images, snapshots)

	if sweepSnapshots {
		c.Snapshots = snapshots
	}
	if sweepVolumes {
		c.Volumes, _ = list(ctx, c, resource.KindVolume, cat.ListVolumes)
	}
	return c
}

func list(ctx context.Context, c *ScopeCatalog, kind resource.Kind, fn func(context.Context) ([]resource.Resource, error)) ([]resource.Resource, bool) {
	c.attempted++
	rs, err := fn(ctx)
	if err != nil {
		c.Errors = append(c.Errors, &DiscoveryError{Scope: c.Scope, Kind: kind, Err: err})
		return nil, false
	}
	return rs, true
}
