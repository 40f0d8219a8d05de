package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
)

// mockCompute implements ComputeAPI for testing. Unset list functions return
// nothing; unset mutators succeed.
type mockCompute struct {
	ListVirtualMachinesFunc      func(ctx context.Context) ([]*armcompute.VirtualMachine, error)
	GetVirtualMachineFunc        func(ctx context.Context, rg, name string) (*armcompute.VirtualMachine, error)
	PowerStateFunc               func(ctx context.Context, rg, name string) (string, error)
	DeallocateVirtualMachineFunc func(ctx context.Context, rg, name string) error
	DeleteVirtualMachineFunc     func(ctx context.Context, rg, name string) error
	UpdateVirtualMachineTagsFunc func(ctx context.Context, rg, name string, tags map[string]*string) error

	ListDisksFunc      func(ctx context.Context) ([]*armcompute.Disk, error)
	GetDiskFunc        func(ctx context.Context, rg, name string) (*armcompute.Disk, error)
	DeleteDiskFunc     func(ctx context.Context, rg, name string) error
	UpdateDiskTagsFunc func(ctx context.Context, rg, name string, tags map[string]*string) error

	ListSnapshotsFunc      func(ctx context.Context) ([]*armcompute.Snapshot, error)
	GetSnapshotFunc        func(ctx context.Context, rg, name string) (*armcompute.Snapshot, error)
	DeleteSnapshotFunc     func(ctx context.Context, rg, name string) error
	UpdateSnapshotTagsFunc func(ctx context.Context, rg, name string, tags map[string]*string) error

	ListImagesFunc func(ctx context.Context) ([]*armcompute.Image, error)
}

func (m *mockCompute) ListVirtualMachines(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	if m.ListVirtualMachinesFunc != nil {
		return m.ListVirtualMachinesFunc(ctx)
	}
	return nil, nil
}

func (m *mockCompute) GetVirtualMachine(ctx context.Context, rg, name string) (*armcompute.VirtualMachine, error) {
	return m.GetVirtualMachineFunc(ctx, rg, name)
}

func (m *mockCompute) PowerState(ctx context.Context, rg, name string) (string, error) {
	if m.PowerStateFunc != nil {
		return m.PowerStateFunc(ctx, rg, name)
	}
	return "running", nil
}

func (m *mockCompute) DeallocateVirtualMachine(ctx context.Context, rg, name string) error {
	if m.DeallocateVirtualMachineFunc != nil {
		return m.DeallocateVirtualMachineFunc(ctx, rg, name)
	}
	return nil
}

func (m *mockCompute) DeleteVirtualMachine(ctx context.Context, rg, name string) error {
	if m.DeleteVirtualMachineFunc != nil {
		return m.DeleteVirtualMachineFunc(ctx, rg, name)
	}
	return nil
}

func (m *mockCompute) UpdateVirtualMachineTags(ctx context.Context, rg, name string, tags map[string]*string) error {
	if m.UpdateVirtualMachineTagsFunc != nil {
		return m.UpdateVirtualMachineTagsFunc(ctx, rg, name, tags)
	}
	return nil
}

func (m *mockCompute) ListDisks(ctx context.Context) ([]*armcompute.Disk, error) {
	if m.ListDisksFunc != nil {
		return m.ListDisksFunc(ctx)
	}
	return nil, nil
}

func (m *mockCompute) GetDisk(ctx context.Context, rg, name string) (*armcompute.Disk, error) {
	return m.GetDiskFunc(ctx, rg, name)
}

func (m *mockCompute) DeleteDisk(ctx context.Context, rg, name string) error {
	if m.DeleteDiskFunc != nil {
		return m.DeleteDiskFunc(ctx, rg, name)
	}
	return nil
}

func (m *mockCompute) UpdateDiskTags(ctx context.Context, rg, name string, tags map[string]*string) error {
	if m.UpdateDiskTagsFunc != nil {
		return m.UpdateDiskTagsFunc(ctx, rg, name, tags)
	}
	return nil
}

func (m *mockCompute) ListSnapshots(ctx context.Context) ([]*armcompute.Snapshot, error) {
	if m.ListSnapshotsFunc != nil {
		return m.ListSnapshotsFunc(ctx)
	}
	return nil, nil
}

func (m *mockCompute) GetSnapshot(ctx context.Context, rg, name string) (*armcompute.Snapshot, error) {
	return m.GetSnapshotFunc(ctx, rg, name)
}

func (m *mockCompute) DeleteSnapshot(ctx context.Context, rg, name string) error {
	if m.DeleteSnapshotFunc != nil {
		return m.DeleteSnapshotFunc(ctx, rg, name)
	}
	return nil
}

func (m *mockCompute) UpdateSnapshotTags(ctx context.Context, rg, name string, tags map[string]*string) error {
	if m.UpdateSnapshotTagsFunc != nil {
		return m.UpdateSnapshotTagsFunc(ctx, rg, name, tags)
	}
	return nil
}

func (m *mockCompute) ListImages(ctx context.Context) ([]*armcompute.Image, error) {
	if m.ListImagesFunc != nil {
		return m.ListImagesFunc(ctx)
	}
	return nil, nil
}
