package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ═══════════════════════════════════════════════════════════════════════════
// Instances
// ═══════════════════════════════════════════════════════════════════════════

func TestListInstances_Paginates(t *testing.T) {
	launched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0

	client := &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			calls++
			if in.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
						InstanceId:   aws.String("i-1"),
						InstanceType: ec2types.InstanceTypeT3Micro,
						State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
						LaunchTime:   aws.Time(launched),
						Placement:    &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
						Tags: []ec2types.Tag{
							{Key: aws.String("Name"), Value: aws.String("ci-runner")},
							{Key: aws.String("team"), Value: aws.String("build")},
						},
					}}}},
					NextToken: aws.String("page-2"),
				}, nil
			}
			assert.Equal(t, "page-2", aws.ToString(in.NextToken))
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
					InstanceId: aws.String("i-2"),
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
				}}}},
			}, nil
		},
	}

	p := newTestPlugin(client, nil)
	resources, err := p.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, 2, calls)

	first := resources[0]
	assert.Equal(t, "i-1", first.ID)
	assert.Equal(t, resource.KindInstance, first.Kind)
	assert.Equal(t, "ci-runner", first.Name)
	assert.Equal(t, resource.StateRunning, first.State)
	assert.Equal(t, launched, first.CreatedAt)
	assert.Equal(t, "build", first.Tags["team"])
	assert.Equal(t, "t3.micro", first.Attrs["instance_type"])
	assert.Equal(t, "us-east-1a", first.Attrs["az"])

	second := resources[1]
	assert.Equal(t, "i-2", second.ID)
	assert.Empty(t, second.Name, "unnamed instances keep an empty name")
	assert.Equal(t, resource.StateStopped, second.State)
}

func TestListInstances_Error(t *testing.T) {
	client := &mockEC2Client{
		DescribeInstancesFunc: func(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	_, err := newTestPlugin(client, nil).ListInstances(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "describe instances")
}

// ═══════════════════════════════════════════════════════════════════════════
// Volumes and snapshots
// ═══════════════════════════════════════════════════════════════════════════

func TestListVolumes_Convert(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	client := &mockEC2Client{
		DescribeVolumesFunc: func(context.Context, *ec2.DescribeVolumesInput, ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			return &ec2.DescribeVolumesOutput{Volumes: []ec2types.Volume{
				{
					VolumeId:   aws.String("vol-1"),
					State:      ec2types.VolumeStateAvailable,
					CreateTime: aws.Time(created),
					SnapshotId: aws.String("snap-parent"),
					Size:       aws.Int32(100),
					VolumeType: ec2types.VolumeTypeGp3,
				},
				{
					VolumeId:    aws.String("vol-2"),
					State:       ec2types.VolumeStateInUse,
					Attachments: []ec2types.VolumeAttachment{{InstanceId: aws.String("i-1")}},
					Tags:        []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("data")}},
				},
			}}, nil
		},
	}

	resources, err := newTestPlugin(client, nil).ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)

	assert.Equal(t, "vol-1", resources[0].Name, "falls back to the id")
	assert.Equal(t, resource.StateAvailable, resources[0].State)
	assert.Equal(t, "snap-parent", resources[0].ParentSnapshotID)
	assert.Equal(t, created, resources[0].CreatedAt)
	assert.Equal(t, "100", resources[0].Attrs["size_gb"])
	assert.Equal(t, "false", resources[0].Attrs["attached"])

	assert.Equal(t, "data", resources[1].Name)
	assert.Equal(t, resource.StateInUse, resources[1].State)
	assert.Equal(t, "true", resources[1].Attrs["attached"])
}

func TestListSnapshots_OwnedBySelf(t *testing.T) {
	started := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	client := &mockEC2Client{
		DescribeSnapshotsFunc: func(_ context.Context, in *ec2.DescribeSnapshotsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
			assert.Equal(t, []string{"self"}, in.OwnerIds)
			return &ec2.DescribeSnapshotsOutput{Snapshots: []ec2types.Snapshot{{
				SnapshotId:  aws.String("snap-1"),
				State:       ec2types.SnapshotStateCompleted,
				StartTime:   aws.Time(started),
				VolumeId:    aws.String("vol-1"),
				VolumeSize:  aws.Int32(8),
				Description: aws.String("nightly backup"),
			}}}, nil
		},
	}

	resources, err := newTestPlugin(client, nil).ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)

	snap := resources[0]
	assert.Equal(t, resource.KindSnapshot, snap.Kind)
	assert.Equal(t, "snap-1", snap.Name)
	assert.Equal(t, "nightly backup", snap.Description)
	assert.Equal(t, "vol-1", snap.ParentVolumeID)
	assert.Equal(t, started, snap.CreatedAt)
	assert.Equal(t, resource.StateAvailable, snap.State)
}

// ═══════════════════════════════════════════════════════════════════════════
// Images
// ═══════════════════════════════════════════════════════════════════════════

func TestListImages_AMIsAndLaunchConfigurations(t *testing.T) {
	client := &mockEC2Client{
		DescribeImagesFunc: func(_ context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
			assert.Equal(t, []string{"self"}, in.Owners)
			return &ec2.DescribeImagesOutput{Images: []ec2types.Image{{
				ImageId: aws.String("ami-1"),
				Name:    aws.String("golden"),
				BlockDeviceMappings: []ec2types.BlockDeviceMapping{
					{Ebs: &ec2types.EbsBlockDevice{SnapshotId: aws.String("snap-a")}},
					{VirtualName: aws.String("ephemeral0")},
				},
			}}}, nil
		},
	}
	asg := &mockASGClient{
		DescribeLaunchConfigurationsFunc: func(context.Context, *autoscaling.DescribeLaunchConfigurationsInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeLaunchConfigurationsOutput, error) {
			return &autoscaling.DescribeLaunchConfigurationsOutput{LaunchConfigurations: []asgtypes.LaunchConfiguration{
				{
					LaunchConfigurationName: aws.String("web-lc"),
					BlockDeviceMappings: []asgtypes.BlockDeviceMapping{
						{Ebs: &asgtypes.Ebs{SnapshotId: aws.String("snap-b")}},
					},
				},
				{LaunchConfigurationName: aws.String("no-snapshots")},
			}}, nil
		},
	}

	images, err := newTestPlugin(client, asg).ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)

	assert.Equal(t, "ami-1", images[0].ID)
	assert.Equal(t, []string{"snap-a"}, images[0].SnapshotIDs)
	assert.Equal(t, "aws/us-east-1", images[0].Scope.ID())

	assert.Equal(t, "launch-configuration/web-lc", images[1].ID)
	assert.Equal(t, []string{"snap-b"}, images[1].SnapshotIDs)
}

func TestListImages_LaunchConfigurationFailure(t *testing.T) {
	asg := &mockASGClient{
		DescribeLaunchConfigurationsFunc: func(context.Context, *autoscaling.DescribeLaunchConfigurationsInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeLaunchConfigurationsOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	_, err := newTestPlugin(&mockEC2Client{}, asg).ListImages(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch configurations")
}

func TestListImages_WithoutAutoScaling(t *testing.T) {
	images, err := newTestPlugin(&mockEC2Client{}, nil).ListImages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, images)
}
