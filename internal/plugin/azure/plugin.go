// Package azure implements the siivous plugin for one Azure subscription.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Plugin serves one Azure subscription. Azure resources are not
// partitioned by region, so the scope region is empty and the resource
// location is kept in Attrs.
type Plugin struct {
	subscriptionID string
	client         ComputeAPI
	logger         zerolog.Logger
	now            func() time.Time
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates a plugin using DefaultAzureCredential, which covers
// environment variables, managed identity and the Azure CLI login.
func New(ctx context.Context, subscriptionID string) (*Plugin, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	client, err := newARMClient(subscriptionID, credential)
	if err != nil {
		return nil, err
	}
	return NewWithClient(subscriptionID, client), nil
}

// NewWithClient creates a plugin from an existing ComputeAPI.
func NewWithClient(subscriptionID string, client ComputeAPI) *Plugin {
	return &Plugin{
		subscriptionID: subscriptionID,
		client:         client,
		logger:         telemetry.NewLogger("azure").With().Str("subscription", subscriptionID).Logger(),
		now:            time.Now,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "azure"
}

// Scope implements plugin.Catalog.
func (p *Plugin) Scope() resource.Scope {
	return resource.Scope{Provider: "azure", Account: p.subscriptionID}
}

func (p *Plugin) newResource(id string, kind resource.Kind, rawState, name string) resource.Resource {
	return resource.Resource{
		ID:        normalizeID(id),
		Kind:      kind,
		Provider:  "azure",
		Account:   p.subscriptionID,
		Name:      name,
		State:     resource.ParseState(rawState),
		RawState:  rawState,
		Tags:      make(map[string]string),
		Attrs:     make(map[string]string),
		ScannedAt: p.now(),
	}
}

// normalizeID lowercases an ARM resource ID. ARM IDs are case-insensitive
// and different APIs return them with different casing, which would break
// reference matching.
func normalizeID(id string) string {
	return strings.ToLower(id)
}

// parseID splits an ARM resource ID into resource group and name.
func parseID(id string) (resourceGroup, name string, err error) {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return "", "", fmt.Errorf("parse resource id %q: %w", id, err)
	}
	return rid.ResourceGroupName, rid.Name, nil
}

// isSnapshotID reports whether id names a compute snapshot.
func isSnapshotID(id string) bool {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return false
	}
	return strings.EqualFold(rid.ResourceType.Type, "snapshots")
}

// isDiskID reports whether id names a managed disk.
func isDiskID(id string) bool {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return false
	}
	return strings.EqualFold(rid.ResourceType.Type, "disks")
}

// mapErr turns 404 responses into plugin.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", plugin.ErrNotFound, respErr.ErrorCode)
	}
	return err
}

func fromTags(dst map[string]string, tags map[string]*string) {
	for k, v := range tags {
		if v == nil {
			dst[k] = ""
			continue
		}
		dst[k] = *v
	}
}

func toTags(tags map[string]string) map[string]*string {
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = &v
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
