package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Tags reads the current tags of one resource.
func (p *Plugin) Tags(ctx context.Context, ref resource.Ref) (map[string]string, error) {
	tags := make(map[string]string)
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeTags(ctx, &ec2.DescribeTagsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("resource-id"), Values: []string{ref.ID}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe tags %s: %w", ref.ID, mapErr(err))
		}

		for _, tag := range output.Tags {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return tags, nil
}

// SetTags creates or overwrites tags.
func (p *Plugin) SetTags(ctx context.Context, ref resource.Ref, tags map[string]string) error {
	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	if _, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{ref.ID},
		Tags:      ec2Tags,
	}); err != nil {
		return fmt.Errorf("create tags %s: %w", ref.ID, mapErr(err))
	}
	return nil
}

// UnsetTags removes tags by key regardless of value.
func (p *Plugin) UnsetTags(ctx context.Context, ref resource.Ref, keys []string) error {
	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k)})
	}

	if _, err := p.ec2Client.DeleteTags(ctx, &ec2.DeleteTagsInput{
		Resources: []string{ref.ID},
		Tags:      ec2Tags,
	}); err != nil {
		return fmt.Errorf("delete tags %s: %w", ref.ID, mapErr(err))
	}
	return nil
}

// Stop stops an instance.
func (p *Plugin) Stop(ctx context.Context, ref resource.Ref) error {
	if _, err := p.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{ref.ID}}); err != nil {
		return fmt.Errorf("stop instance %s: %w", ref.ID, mapErr(err))
	}
	return nil
}

// Terminate terminates an instance.
func (p *Plugin) Terminate(ctx context.Context, ref resource.Ref) error {
	if _, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{ref.ID}}); err != nil {
		return fmt.Errorf("terminate instance %s: %w", ref.ID, mapErr(err))
	}
	return nil
}

// Delete deletes a volume or snapshot.
func (p *Plugin) Delete(ctx context.Context, ref resource.Ref) error {
	var err error
	switch ref.Kind {
	case resource.KindVolume:
		_, err = p.ec2Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(ref.ID)})
	case resource.KindSnapshot:
		_, err = p.ec2Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(ref.ID)})
	default:
		return fmt.Errorf("delete %s: unsupported kind %s", ref.ID, ref.Kind)
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", ref.Kind, ref.ID, mapErr(err))
	}
	return nil
}

// Locked reports whether termination protection is enabled on an instance.
// Other kinds are never locked.
func (p *Plugin) Locked(ctx context.Context, ref resource.Ref) (bool, error) {
	if ref.Kind != resource.KindInstance {
		return false, nil
	}

	output, err := p.ec2Client.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(ref.ID),
		Attribute:  ec2types.InstanceAttributeNameDisableApiTermination,
	})
	if err != nil {
		return false, fmt.Errorf("describe instance attribute %s: %w", ref.ID, mapErr(err))
	}
	if output.DisableApiTermination == nil {
		return false, nil
	}
	return aws.ToBool(output.DisableApiTermination.Value), nil
}

// Refresh re-reads one resource.
func (p *Plugin) Refresh(ctx context.Context, ref resource.Ref) (resource.Resource, error) {
	var (
		found []resource.Resource
		err   error
	)
	ids := []string{ref.ID}

	switch ref.Kind {
	case resource.KindInstance:
		found, err = p.describeInstances(ctx, ids)
	case resource.KindVolume:
		found, err = p.describeVolumes(ctx, ids)
	case resource.KindSnapshot:
		found, err = p.describeSnapshots(ctx, ids)
	default:
		return resource.Resource{}, fmt.Errorf("refresh %s: unsupported kind %s", ref.ID, ref.Kind)
	}
	if err != nil {
		return resource.Resource{}, err
	}

	for _, r := range found {
		if r.ID == ref.ID {
			return r, nil
		}
	}
	return resource.Resource{}, fmt.Errorf("refresh %s %s: %w", ref.Kind, ref.ID, plugin.ErrNotFound)
}
