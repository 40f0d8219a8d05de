package azure

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ListInstances lists virtual machines. Power state comes from the instance
// view carried by the listing; a VM without one is in the unknown state.
func (p *Plugin) ListInstances(ctx context.Context) ([]resource.Resource, error) {
	vms, err := p.client.ListVirtualMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list virtual machines: %w", mapErr(err))
	}

	resources := make([]resource.Resource, 0, len(vms))
	for _, vm := range vms {
		if vm == nil || vm.ID == nil {
			continue
		}
		var view *armcompute.VirtualMachineInstanceView
		if vm.Properties != nil {
			view = vm.Properties.InstanceView
		}
		resources = append(resources, p.convertVM(vm, viewPowerState(view)))
	}
	return resources, nil
}

func (p *Plugin) convertVM(vm *armcompute.VirtualMachine, powerState string) resource.Resource {
	r := p.newResource(deref(vm.ID), resource.KindInstance, powerState, deref(vm.Name))
	fromTags(r.Tags, vm.Tags)
	r.Attrs["location"] = deref(vm.Location)
	if props := vm.Properties; props != nil {
		r.CreatedAt = resource.FirstTime(deref(props.TimeCreated), viewProvisionedAt(props.InstanceView))
		if props.HardwareProfile != nil && props.HardwareProfile.VMSize != nil {
			r.Attrs["vm_size"] = string(*props.HardwareProfile.VMSize)
		}
	}
	return r
}

// ListVolumes lists managed disks.
func (p *Plugin) ListVolumes(ctx context.Context) ([]resource.Resource, error) {
	disks, err := p.client.ListDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", mapErr(err))
	}

	resources := make([]resource.Resource, 0, len(disks))
	for _, disk := range disks {
		if disk == nil || disk.ID == nil {
			continue
		}
		resources = append(resources, p.convertDisk(disk))
	}
	return resources, nil
}

func (p *Plugin) convertDisk(disk *armcompute.Disk) resource.Resource {
	state := ""
	if disk.Properties != nil && disk.Properties.DiskState != nil {
		state = string(*disk.Properties.DiskState)
	}
	r := p.newResource(deref(disk.ID), resource.KindVolume, state, deref(disk.Name))
	fromTags(r.Tags, disk.Tags)
	r.Attrs["location"] = deref(disk.Location)
	r.Attrs["attached"] = strconv.FormatBool(disk.ManagedBy != nil && *disk.ManagedBy != "")
	if props := disk.Properties; props != nil {
		r.CreatedAt = resource.FirstTime(deref(props.TimeCreated), deref(props.LastOwnershipUpdateTime))
		r.Attrs["size_gb"] = strconv.Itoa(int(deref(props.DiskSizeGB)))
		if props.CreationData != nil {
			if src := deref(props.CreationData.SourceResourceID); isSnapshotID(src) {
				r.ParentSnapshotID = normalizeID(src)
			}
		}
	}
	return r
}

// ListSnapshots lists disk snapshots.
func (p *Plugin) ListSnapshots(ctx context.Context) ([]resource.Resource, error) {
	snapshots, err := p.client.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", mapErr(err))
	}

	resources := make([]resource.Resource, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || snap.ID == nil {
			continue
		}
		resources = append(resources, p.convertSnapshot(snap))
	}
	return resources, nil
}

func (p *Plugin) convertSnapshot(snap *armcompute.Snapshot) resource.Resource {
	state := ""
	if snap.Properties != nil {
		state = deref(snap.Properties.ProvisioningState)
	}
	r := p.newResource(deref(snap.ID), resource.KindSnapshot, state, deref(snap.Name))
	fromTags(r.Tags, snap.Tags)
	r.Attrs["location"] = deref(snap.Location)
	if props := snap.Properties; props != nil {
		r.CreatedAt = deref(props.TimeCreated)
		r.Attrs["size_gb"] = strconv.Itoa(int(deref(props.DiskSizeGB)))
		if props.CreationData != nil {
			if src := deref(props.CreationData.SourceResourceID); isDiskID(src) {
				r.ParentVolumeID = normalizeID(src)
			}
		}
	}
	return r
}

// ListImages lists managed images with the snapshots and disks they were
// captured from.
func (p *Plugin) ListImages(ctx context.Context) ([]resource.Image, error) {
	images, err := p.client.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", mapErr(err))
	}

	out := make([]resource.Image, 0, len(images))
	for _, img := range images {
		if img == nil || img.ID == nil {
			continue
		}
		out = append(out, p.convertImage(img))
	}
	return out, nil
}

func (p *Plugin) convertImage(img *armcompute.Image) resource.Image {
	out := resource.Image{
		ID:    normalizeID(deref(img.ID)),
		Name:  deref(img.Name),
		Scope: p.Scope(),
	}
	if img.Properties == nil || img.Properties.StorageProfile == nil {
		return out
	}

	add := func(snapshot, disk *armcompute.SubResource) {
		if snapshot != nil && snapshot.ID != nil {
			out.SnapshotIDs = append(out.SnapshotIDs, normalizeID(*snapshot.ID))
		}
		if disk != nil && disk.ID != nil {
			out.VolumeIDs = append(out.VolumeIDs, normalizeID(*disk.ID))
		}
	}

	profile := img.Properties.StorageProfile
	if profile.OSDisk != nil {
		add(profile.OSDisk.Snapshot, profile.OSDisk.ManagedDisk)
	}
	for _, dd := range profile.DataDisks {
		if dd != nil {
			add(dd.Snapshot, dd.ManagedDisk)
		}
	}
	return out
}
