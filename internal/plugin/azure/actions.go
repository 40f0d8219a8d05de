package azure

import (
	"context"
	"fmt"

	"github.com/yairfalse/siivous/pkg/resource"
)

// Tags reads the current tags of one resource.
func (p *Plugin) Tags(ctx context.Context, ref resource.Ref) (map[string]string, error) {
	r, err := p.Refresh(ctx, ref)
	if err != nil {
		return nil, err
	}
	return r.Tags, nil
}

// SetTags merges tags into the resource's tag set. Azure updates replace
// the whole set, so the current tags are read first.
func (p *Plugin) SetTags(ctx context.Context, ref resource.Ref, tags map[string]string) error {
	current, err := p.Tags(ctx, ref)
	if err != nil {
		return err
	}
	for k, v := range tags {
		current[k] = v
	}
	return p.updateTags(ctx, ref, current)
}

// UnsetTags removes tags by key regardless of value.
func (p *Plugin) UnsetTags(ctx context.Context, ref resource.Ref, keys []string) error {
	current, err := p.Tags(ctx, ref)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(current, k)
	}
	return p.updateTags(ctx, ref, current)
}

func (p *Plugin) updateTags(ctx context.Context, ref resource.Ref, tags map[string]string) error {
	rg, name, err := parseID(ref.ID)
	if err != nil {
		return err
	}

	switch ref.Kind {
	case resource.KindInstance:
		err = p.client.UpdateVirtualMachineTags(ctx, rg, name, toTags(tags))
	case resource.KindVolume:
		err = p.client.UpdateDiskTags(ctx, rg, name, toTags(tags))
	case resource.KindSnapshot:
		err = p.client.UpdateSnapshotTags(ctx, rg, name, toTags(tags))
	default:
		return fmt.Errorf("update tags %s: unsupported kind %s", name, ref.Kind)
	}
	if err != nil {
		return fmt.Errorf("update tags %s %s: %w", ref.Kind, name, mapErr(err))
	}
	return nil
}

// Stop deallocates a virtual machine so it stops accruing compute charges.
func (p *Plugin) Stop(ctx context.Context, ref resource.Ref) error {
	rg, name, err := parseID(ref.ID)
	if err != nil {
		return err
	}
	if err := p.client.DeallocateVirtualMachine(ctx, rg, name); err != nil {
		return fmt.Errorf("deallocate vm %s: %w", name, mapErr(err))
	}
	return nil
}

// Terminate deletes a virtual machine.
func (p *Plugin) Terminate(ctx context.Context, ref resource.Ref) error {
	rg, name, err := parseID(ref.ID)
	if err != nil {
		return err
	}
	if err := p.client.DeleteVirtualMachine(ctx, rg, name); err != nil {
		return fmt.Errorf("delete vm %s: %w", name, mapErr(err))
	}
	return nil
}

// Delete deletes a managed disk or snapshot.
func (p *Plugin) Delete(ctx context.Context, ref resource.Ref) error {
	rg, name, err := parseID(ref.ID)
	if err != nil {
		return err
	}

	switch ref.Kind {
	case resource.KindVolume:
		err = p.client.DeleteDisk(ctx, rg, name)
	case resource.KindSnapshot:
		err = p.client.DeleteSnapshot(ctx, rg, name)
	default:
		return fmt.Errorf("delete %s: unsupported kind %s", name, ref.Kind)
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", ref.Kind, name, mapErr(err))
	}
	return nil
}

// Locked is always false: Azure has no per-VM termination protection flag.
// Management locks surface as failed deletes instead.
func (p *Plugin) Locked(context.Context, resource.Ref) (bool, error) {
	return false, nil
}

// Refresh re-reads one resource.
func (p *Plugin) Refresh(ctx context.Context, ref resource.Ref) (resource.Resource, error) {
	rg, name, err := parseID(ref.ID)
	if err != nil {
		return resource.Resource{}, err
	}

	switch ref.Kind {
	case resource.KindInstance:
		vm, err := p.client.GetVirtualMachine(ctx, rg, name)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("get vm %s: %w", name, mapErr(err))
		}
		state, err := p.client.PowerState(ctx, rg, name)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("instance view %s: %w", name, mapErr(err))
		}
		return p.convertVM(vm, state), nil
	case resource.KindVolume:
		disk, err := p.client.GetDisk(ctx, rg, name)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("get disk %s: %w", name, mapErr(err))
		}
		return p.convertDisk(disk), nil
	case resource.KindSnapshot:
		snap, err := p.client.GetSnapshot(ctx, rg, name)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("get snapshot %s: %w", name, mapErr(err))
		}
		return p.convertSnapshot(snap), nil
	}
	return resource.Resource{}, fmt.Errorf("refresh %s: unsupported kind %s", name, ref.Kind)
}
