package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

func ref(id string, kind resource.Kind) resource.Ref {
	return resource.Ref{ID: id, Kind: kind, Scope: resource.Scope{Provider: "aws", Account: "123456789012", Region: "us-east-1"}}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tags
// ═══════════════════════════════════════════════════════════════════════════

func TestTags_Paginates(t *testing.T) {
	client := &mockEC2Client{
		DescribeTagsFunc: func(_ context.Context, in *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
			require.Len(t, in.Filters, 1)
			assert.Equal(t, "resource-id", aws.ToString(in.Filters[0].Name))
			assert.Equal(t, []string{"i-1"}, in.Filters[0].Values)
			if in.NextToken == nil {
				return &ec2.DescribeTagsOutput{
					Tags:      []ec2types.TagDescription{{Key: aws.String("a"), Value: aws.String("1")}},
					NextToken: aws.String("more"),
				}, nil
			}
			return &ec2.DescribeTagsOutput{
				Tags: []ec2types.TagDescription{{Key: aws.String("b"), Value: aws.String("2")}},
			}, nil
		},
	}

	tags, err := newTestPlugin(client, nil).Tags(context.Background(), ref("i-1", resource.KindInstance))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, tags)
}

func TestSetTags(t *testing.T) {
	var got *ec2.CreateTagsInput
	client := &mockEC2Client{
		CreateTagsFunc: func(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			got = in
			return &ec2.CreateTagsOutput{}, nil
		},
	}

	err := newTestPlugin(client, nil).SetTags(context.Background(), ref("vol-1", resource.KindVolume), map[string]string{"siivous-expiry": "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"vol-1"}, got.Resources)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "siivous-expiry", aws.ToString(got.Tags[0].Key))
	assert.Equal(t, "2026-01-01T00:00:00Z", aws.ToString(got.Tags[0].Value))
}

func TestUnsetTags_KeyOnly(t *testing.T) {
	var got *ec2.DeleteTagsInput
	client := &mockEC2Client{
		DeleteTagsFunc: func(_ context.Context, in *ec2.DeleteTagsInput, _ ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
			got = in
			return &ec2.DeleteTagsOutput{}, nil
		},
	}

	err := newTestPlugin(client, nil).UnsetTags(context.Background(), ref("i-1", resource.KindInstance), []string{"siivous-expiry", "siivous-expiry "})
	require.NoError(t, err)
	require.Len(t, got.Tags, 2)
	for _, tag := range got.Tags {
		assert.Nil(t, tag.Value, "values must be omitted so any value matches")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Destructive operations
// ═══════════════════════════════════════════════════════════════════════════

func TestStopAndTerminate(t *testing.T) {
	var stopped, terminated []string
	client := &mockEC2Client{
		StopInstancesFunc: func(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
			stopped = append(stopped, in.InstanceIds...)
			return &ec2.StopInstancesOutput{}, nil
		},
		TerminateInstancesFunc: func(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
			terminated = append(terminated, in.InstanceIds...)
			return &ec2.TerminateInstancesOutput{}, nil
		},
	}
	p := newTestPlugin(client, nil)

	require.NoError(t, p.Stop(context.Background(), ref("i-1", resource.KindInstance)))
	require.NoError(t, p.Terminate(context.Background(), ref("i-2", resource.KindInstance)))
	assert.Equal(t, []string{"i-1"}, stopped)
	assert.Equal(t, []string{"i-2"}, terminated)
}

func TestDelete_ByKind(t *testing.T) {
	var volumes, snapshots []string
	client := &mockEC2Client{
		DeleteVolumeFunc: func(_ context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
			volumes = append(volumes, aws.ToString(in.VolumeId))
			return &ec2.DeleteVolumeOutput{}, nil
		},
		DeleteSnapshotFunc: func(_ context.Context, in *ec2.DeleteSnapshotInput, _ ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
			snapshots = append(snapshots, aws.ToString(in.SnapshotId))
			return &ec2.DeleteSnapshotOutput{}, nil
		},
	}
	p := newTestPlugin(client, nil)

	require.NoError(t, p.Delete(context.Background(), ref("vol-1", resource.KindVolume)))
	require.NoError(t, p.Delete(context.Background(), ref("snap-1", resource.KindSnapshot)))
	assert.Error(t, p.Delete(context.Background(), ref("i-1", resource.KindInstance)))

	assert.Equal(t, []string{"vol-1"}, volumes)
	assert.Equal(t, []string{"snap-1"}, snapshots)
}

func TestDelete_NotFound(t *testing.T) {
	client := &mockEC2Client{
		DeleteSnapshotFunc: func(context.Context, *ec2.DeleteSnapshotInput, ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "InvalidSnapshot.NotFound", Message: "gone"}
		},
	}

	err := newTestPlugin(client, nil).Delete(context.Background(), ref("snap-1", resource.KindSnapshot))
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// Locked and Refresh
// ═══════════════════════════════════════════════════════════════════════════

func TestLocked(t *testing.T) {
	client := &mockEC2Client{
		DescribeInstanceAttributeFunc: func(_ context.Context, in *ec2.DescribeInstanceAttributeInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error) {
			assert.Equal(t, ec2types.InstanceAttributeNameDisableApiTermination, in.Attribute)
			return &ec2.DescribeInstanceAttributeOutput{
				DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(aws.ToString(in.InstanceId) == "i-locked")},
			}, nil
		},
	}
	p := newTestPlugin(client, nil)

	locked, err := p.Locked(context.Background(), ref("i-locked", resource.KindInstance))
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = p.Locked(context.Background(), ref("i-open", resource.KindInstance))
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = p.Locked(context.Background(), ref("vol-1", resource.KindVolume))
	require.NoError(t, err)
	assert.False(t, locked, "volumes are never locked")
}

func TestLocked_Error(t *testing.T) {
	client := &mockEC2Client{
		DescribeInstanceAttributeFunc: func(context.Context, *ec2.DescribeInstanceAttributeInput, ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	_, err := newTestPlugin(client, nil).Locked(context.Background(), ref("i-1", resource.KindInstance))
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	client := &mockEC2Client{
		DescribeVolumesFunc: func(_ context.Context, in *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			assert.Equal(t, []string{"vol-1"}, in.VolumeIds)
			return &ec2.DescribeVolumesOutput{Volumes: []ec2types.Volume{{
				VolumeId: aws.String("vol-1"),
				State:    ec2types.VolumeStateInUse,
			}}}, nil
		},
	}

	r, err := newTestPlugin(client, nil).Refresh(context.Background(), ref("vol-1", resource.KindVolume))
	require.NoError(t, err)
	assert.Equal(t, "vol-1", r.ID)
	assert.Equal(t, resource.StateInUse, r.State)
}

func TestRefresh_NotFound(t *testing.T) {
	p := newTestPlugin(&mockEC2Client{}, nil)

	_, err := p.Refresh(context.Background(), ref("i-gone", resource.KindInstance))
	assert.ErrorIs(t, err, plugin.ErrNotFound, "empty result")

	client := &mockEC2Client{
		DescribeSnapshotsFunc: func(context.Context, *ec2.DescribeSnapshotsInput, ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "InvalidSnapshot.NotFound", Message: "gone"}
		},
	}
	_, err = newTestPlugin(client, nil).Refresh(context.Background(), ref("snap-gone", resource.KindSnapshot))
	assert.ErrorIs(t, err, plugin.ErrNotFound, "api error")
}
