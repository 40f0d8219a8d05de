// Package aws implements the siivous plugin for one AWS region.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Plugin serves one AWS account and region.
type Plugin struct {
	region    string
	accountID string

	// AWS clients (interfaces for testability)
	ec2Client EC2API
	asgClient AutoScalingAPI

	logger zerolog.Logger
	now    func() time.Time
}

var _ plugin.Plugin = (*Plugin)(nil)

// Config holds AWS plugin configuration.
type Config struct {
	Region  string
	Profile string
}

// LoadConfig loads the shared AWS configuration for region.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// New creates a new AWS plugin.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	awsCfg, err := LoadConfig(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return nil, err
	}

	accountID, err := AccountID(ctx, sts.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}

	return NewWithClients(cfg.Region, accountID, ec2.NewFromConfig(awsCfg), autoscaling.NewFromConfig(awsCfg)), nil
}

// NewWithClients creates a plugin from existing clients.
func NewWithClients(region, accountID string, ec2Client EC2API, asgClient AutoScalingAPI) *Plugin {
	return &Plugin{
		region:    region,
		accountID: accountID,
		ec2Client: ec2Client,
		asgClient: asgClient,
		logger:    telemetry.NewLogger("aws").With().Str("region", region).Logger(),
		now:       time.Now,
	}
}

// AccountID resolves the caller's account through STS.
func AccountID(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Account), nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "aws"
}

// Scope implements plugin.Catalog.
func (p *Plugin) Scope() resource.Scope {
	return resource.Scope{Provider: "aws", Account: p.accountID, Region: p.region}
}

// helper to create resource with common fields
func (p *Plugin) newResource(id string, kind resource.Kind, rawState, name string) resource.Resource {
	return resource.Resource{
		ID:        id,
		Kind:      kind,
		Provider:  "aws",
		Region:    p.region,
		Account:   p.accountID,
		Name:      name,
		State:     resource.ParseState(rawState),
		RawState:  rawState,
		Tags:      make(map[string]string),
		Attrs:     make(map[string]string),
		ScannedAt: p.now(),
	}
}

// mapErr turns EC2 "*.NotFound" API errors into plugin.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.HasSuffix(apiErr.ErrorCode(), ".NotFound") {
		return fmt.Errorf("%w: %s", plugin.ErrNotFound, apiErr.ErrorMessage())
	}
	return err
}
