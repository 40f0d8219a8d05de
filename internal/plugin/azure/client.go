package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
)

// ComputeAPI is the slice of the Azure compute API the plugin uses.
// Long-running operations are polled to completion by the implementation.
type ComputeAPI interface {
	ListVirtualMachines(ctx context.Context) ([]*armcompute.VirtualMachine, error)
	GetVirtualMachine(ctx context.Context, resourceGroup, name string) (*armcompute.VirtualMachine, error)
	PowerState(ctx context.Context, resourceGroup, name string) (string, error)
	DeallocateVirtualMachine(ctx context.Context, resourceGroup, name string) error
	DeleteVirtualMachine(ctx context.Context, resourceGroup, name string) error
	UpdateVirtualMachineTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error

	ListDisks(ctx context.Context) ([]*armcompute.Disk, error)
	GetDisk(ctx context.Context, resourceGroup, name string) (*armcompute.Disk, error)
	DeleteDisk(ctx context.Context, resourceGroup, name string) error
	UpdateDiskTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error

	ListSnapshots(ctx context.Context) ([]*armcompute.Snapshot, error)
	GetSnapshot(ctx context.Context, resourceGroup, name string) (*armcompute.Snapshot, error)
	DeleteSnapshot(ctx context.Context, resourceGroup, name string) error
	UpdateSnapshotTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error

	ListImages(ctx context.Context) ([]*armcompute.Image, error)
}

// armClient implements ComputeAPI over the armcompute clients.
type armClient struct {
	vms       *armcompute.VirtualMachinesClient
	disks     *armcompute.DisksClient
	snapshots *armcompute.SnapshotsClient
	images    *armcompute.ImagesClient
}

var _ ComputeAPI = (*armClient)(nil)

func newARMClient(subscriptionID string, credential azcore.TokenCredential) (*armClient, error) {
	factory, err := armcompute.NewClientFactory(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create compute client factory: %w", err)
	}
	return &armClient{
		vms:       factory.NewVirtualMachinesClient(),
		disks:     factory.NewDisksClient(),
		snapshots: factory.NewSnapshotsClient(),
		images:    factory.NewImagesClient(),
	}, nil
}

// ListVirtualMachines lists every VM with its instance view statuses in one
// paged listing.
func (c *armClient) ListVirtualMachines(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	var vms []*armcompute.VirtualMachine
	pager := c.vms.NewListAllPager(&armcompute.VirtualMachinesClientListAllOptions{StatusOnly: to.Ptr("true")})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		vms = append(vms, page.Value...)
	}
	return vms, nil
}

func (c *armClient) GetVirtualMachine(ctx context.Context, resourceGroup, name string) (*armcompute.VirtualMachine, error) {
	resp, err := c.vms.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, err
	}
	return &resp.VirtualMachine, nil
}

func (c *armClient) PowerState(ctx context.Context, resourceGroup, name string) (string, error) {
	resp, err := c.vms.InstanceView(ctx, resourceGroup, name, nil)
	if err != nil {
		return "", err
	}
	return viewPowerState(&resp.VirtualMachineInstanceView), nil
}

// viewPowerState returns the power state code without its "PowerState/"
// prefix, e.g. "running" or "deallocated". Empty when view carries none.
func viewPowerState(view *armcompute.VirtualMachineInstanceView) string {
	if view == nil {
		return ""
	}
	for _, status := range view.Statuses {
		if status == nil || status.Code == nil {
			continue
		}
		if state, ok := strings.CutPrefix(*status.Code, "PowerState/"); ok {
			return state
		}
	}
	return ""
}

// viewProvisionedAt returns the time of the provisioning status.
func viewProvisionedAt(view *armcompute.VirtualMachineInstanceView) time.Time {
	if view == nil {
		return time.Time{}
	}
	for _, status := range view.Statuses {
		if status != nil && status.Code != nil && strings.HasPrefix(*status.Code, "ProvisioningState/") {
			return deref(status.Time)
		}
	}
	return time.Time{}
}

func (c *armClient) DeallocateVirtualMachine(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.vms.BeginDeallocate(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) DeleteVirtualMachine(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.vms.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) UpdateVirtualMachineTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error {
	poller, err := c.vms.BeginUpdate(ctx, resourceGroup, name, armcompute.VirtualMachineUpdate{Tags: tags}, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) ListDisks(ctx context.Context) ([]*armcompute.Disk, error) {
	var disks []*armcompute.Disk
	pager := c.disks.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		disks = append(disks, page.Value...)
	}
	return disks, nil
}

func (c *armClient) GetDisk(ctx context.Context, resourceGroup, name string) (*armcompute.Disk, error) {
	resp, err := c.disks.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, err
	}
	return &resp.Disk, nil
}

func (c *armClient) DeleteDisk(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.disks.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) UpdateDiskTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error {
	poller, err := c.disks.BeginUpdate(ctx, resourceGroup, name, armcompute.DiskUpdate{Tags: tags}, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) ListSnapshots(ctx context.Context) ([]*armcompute.Snapshot, error) {
	var snapshots []*armcompute.Snapshot
	pager := c.snapshots.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, page.Value...)
	}
	return snapshots, nil
}

func (c *armClient) GetSnapshot(ctx context.Context, resourceGroup, name string) (*armcompute.Snapshot, error) {
	resp, err := c.snapshots.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, err
	}
	return &resp.Snapshot, nil
}

func (c *armClient) DeleteSnapshot(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.snapshots.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) UpdateSnapshotTags(ctx context.Context, resourceGroup, name string, tags map[string]*string) error {
	poller, err := c.snapshots.BeginUpdate(ctx, resourceGroup, name, armcompute.SnapshotUpdate{Tags: tags}, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *armClient) ListImages(ctx context.Context) ([]*armcompute.Image, error) {
	var images []*armcompute.Image
	pager := c.images.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		images = append(images, page.Value...)
	}
	return images, nil
}
