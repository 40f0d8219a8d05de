package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/siivous/pkg/resource"
)

// ListInstances lists EC2 instances.
func (p *Plugin) ListInstances(ctx context.Context) ([]resource.Resource, error) {
	return p.describeInstances(ctx, nil)
}

func (p *Plugin) describeInstances(ctx context.Context, ids []string) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids, NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", mapErr(err))
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, p.convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertInstance(instance ec2types.Instance) resource.Resource {
	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	r := p.newResource(aws.ToString(instance.InstanceId), resource.KindInstance, state, extractNameTag(instance.Tags))
	copyTags(r.Tags, instance.Tags)
	r.CreatedAt = aws.ToTime(instance.LaunchTime)
	r.Attrs["instance_type"] = string(instance.InstanceType)
	if instance.Placement != nil {
		r.Attrs["az"] = aws.ToString(instance.Placement.AvailabilityZone)
	}
	if instance.ImageId != nil {
		r.Attrs["image_id"] = aws.ToString(instance.ImageId)
	}
	return r
}

// ListVolumes lists EBS volumes.
func (p *Plugin) ListVolumes(ctx context.Context) ([]resource.Resource, error) {
	return p.describeVolumes(ctx, nil)
}

func (p *Plugin) describeVolumes(ctx context.Context, ids []string) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: ids, NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", mapErr(err))
		}

		for _, vol := range output.Volumes {
			resources = append(resources, p.convertVolume(vol))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertVolume(vol ec2types.Volume) resource.Resource {
	id := aws.ToString(vol.VolumeId)
	r := p.newResource(id, resource.KindVolume, string(vol.State), nameOrID(extractNameTag(vol.Tags), id))
	copyTags(r.Tags, vol.Tags)
	r.CreatedAt = aws.ToTime(vol.CreateTime)
	r.ParentSnapshotID = aws.ToString(vol.SnapshotId)
	r.Attrs["size_gb"] = strconv.Itoa(int(aws.ToInt32(vol.Size)))
	r.Attrs["type"] = string(vol.VolumeType)
	r.Attrs["az"] = aws.ToString(vol.AvailabilityZone)
	r.Attrs["attached"] = strconv.FormatBool(len(vol.Attachments) > 0)
	return r
}

// ListSnapshots lists EBS snapshots owned by the account.
func (p *Plugin) ListSnapshots(ctx context.Context) ([]resource.Resource, error) {
	return p.describeSnapshots(ctx, nil)
}

func (p *Plugin) describeSnapshots(ctx context.Context, ids []string) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			OwnerIds:    []string{"self"},
			SnapshotIds: ids,
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe snapshots: %w", mapErr(err))
		}

		for _, snap := range output.Snapshots {
			resources = append(resources, p.convertSnapshot(snap))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertSnapshot(snap ec2types.Snapshot) resource.Resource {
	id := aws.ToString(snap.SnapshotId)
	r := p.newResource(id, resource.KindSnapshot, string(snap.State), nameOrID(extractNameTag(snap.Tags), id))
	copyTags(r.Tags, snap.Tags)
	r.Description = aws.ToString(snap.Description)
	r.CreatedAt = aws.ToTime(snap.StartTime)
	r.ParentVolumeID = aws.ToString(snap.VolumeId)
	r.Attrs["size_gb"] = strconv.Itoa(int(aws.ToInt32(snap.VolumeSize)))
	return r
}

// ListImages lists AMIs owned by the account together with the launch
// configurations of the region, which pin snapshots the same way.
func (p *Plugin) ListImages(ctx context.Context) ([]resource.Image, error) {
	var images []resource.Image
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners:    []string{"self"},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe images: %w", mapErr(err))
		}

		for _, img := range output.Images {
			images = append(images, p.convertImage(img))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	if p.asgClient == nil {
		return images, nil
	}

	lcs, err := p.launchConfigurationImages(ctx)
	if err != nil {
		return nil, err
	}
	return append(images, lcs...), nil
}

func (p *Plugin) convertImage(img ec2types.Image) resource.Image {
	out := resource.Image{
		ID:    aws.ToString(img.ImageId),
		Name:  aws.ToString(img.Name),
		Scope: p.Scope(),
	}
	for _, bdm := range img.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
			out.SnapshotIDs = append(out.SnapshotIDs, aws.ToString(bdm.Ebs.SnapshotId))
		}
	}
	return out
}

func (p *Plugin) launchConfigurationImages(ctx context.Context) ([]resource.Image, error) {
	var images []resource.Image
	var nextToken *string

	for {
		output, err := p.asgClient.DescribeLaunchConfigurations(ctx, &autoscaling.DescribeLaunchConfigurationsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe launch configurations: %w", err)
		}

		for _, lc := range output.LaunchConfigurations {
			img := resource.Image{
				ID:    "launch-configuration/" + aws.ToString(lc.LaunchConfigurationName),
				Name:  aws.ToString(lc.LaunchConfigurationName),
				Scope: p.Scope(),
			}
			for _, bdm := range lc.BlockDeviceMappings {
				if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
					img.SnapshotIDs = append(img.SnapshotIDs, aws.ToString(bdm.Ebs.SnapshotId))
				}
			}
			if len(img.SnapshotIDs) > 0 {
				images = append(images, img)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return images, nil
}

func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func copyTags(dst map[string]string, tags []ec2types.Tag) {
	for _, tag := range tags {
		dst[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
}

func nameOrID(name, id string) string {
	if name == "" {
		return id
	}
	return name
}
