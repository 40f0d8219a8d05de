package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

func newTestPlugin(ec2Client EC2API, asgClient AutoScalingAPI) *Plugin {
	return NewWithClients("us-east-1", "123456789012", ec2Client, asgClient)
}

func TestNewResource(t *testing.T) {
	p := newTestPlugin(&mockEC2Client{}, nil)

	r := p.newResource("i-abc123", resource.KindInstance, "stopping", "my-instance")

	assert.Equal(t, "i-abc123", r.ID)
	assert.Equal(t, resource.KindInstance, r.Kind)
	assert.Equal(t, "aws", r.Provider)
	assert.Equal(t, "us-east-1", r.Region)
	assert.Equal(t, "123456789012", r.Account)
	assert.Equal(t, "my-instance", r.Name)
	assert.Equal(t, resource.StateStopped, r.State)
	assert.Equal(t, "stopping", r.RawState)
	assert.NotNil(t, r.Tags)
	assert.NotNil(t, r.Attrs)
	assert.WithinDuration(t, time.Now(), r.ScannedAt, time.Second)
}

func TestPluginNameAndScope(t *testing.T) {
	p := newTestPlugin(&mockEC2Client{}, nil)
	assert.Equal(t, "aws", p.Name())
	assert.Equal(t, "aws/us-east-1", p.Scope().ID())
	assert.Equal(t, "123456789012", p.Scope().Account)
}

func TestAccountID(t *testing.T) {
	client := &mockSTSClient{GetCallerIdentityFunc: func(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
		return &sts.GetCallerIdentityOutput{Account: aws.String("210987654321")}, nil
	}}

	id, err := AccountID(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "210987654321", id)

	client.GetCallerIdentityFunc = func(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
		return nil, errors.New("ExpiredToken")
	}
	_, err = AccountID(context.Background(), client)
	assert.Error(t, err)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	notFound := &smithy.GenericAPIError{Code: "InvalidVolume.NotFound", Message: "The volume 'vol-1' does not exist."}
	assert.ErrorIs(t, mapErr(notFound), plugin.ErrNotFound)

	denied := &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "nope"}
	err := mapErr(denied)
	assert.NotErrorIs(t, err, plugin.ErrNotFound)
	assert.Equal(t, denied, err)
}
