package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/internal/plugin/plugintest"
	"github.com/yairfalse/siivous/pkg/resource"
)

func scope(region string) resource.Scope {
	return resource.Scope{Provider: "aws", Account: "123456789012", Region: region}
}

func TestRegister(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register(plugintest.New(scope("us-east-1")))

	all := plugin.All()
	require.Len(t, all, 1)
	assert.Equal(t, "aws", all[0].Name())
	assert.Equal(t, "aws/us-east-1", all[0].Scope().ID())
}

func TestAll_SortedByScope(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register(plugintest.New(scope("us-west-2")))
	plugin.Register(plugintest.New(scope("eu-west-1")))

	all := plugin.All()
	require.Len(t, all, 2)
	assert.Equal(t, "aws/eu-west-1", all[0].Scope().ID())
	assert.Equal(t, "aws/us-west-2", all[1].Scope().ID())
}

func TestAll_Empty(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	assert.Empty(t, plugin.All())
}

func TestNames(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register(plugintest.New(scope("us-east-1")))
	plugin.Register(plugintest.New(resource.Scope{Provider: "azure", Account: "sub-1"}))

	assert.Equal(t, []string{"aws/us-east-1", "azure/sub-1"}, plugin.Names())
}

func TestRegister_Overwrites(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	p1 := plugintest.New(scope("us-east-1")).Add(resource.Resource{ID: "i-1", Kind: resource.KindInstance})
	p2 := plugintest.New(scope("us-east-1")).Add(resource.Resource{ID: "i-2", Kind: resource.KindInstance})

	plugin.Register(p1)
	plugin.Register(p2)

	all := plugin.All()
	require.Len(t, all, 1)
	instances, err := all[0].ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-2", instances[0].ID)
}

func TestClear(t *testing.T) {
	plugin.Clear()

	plugin.Register(plugintest.New(scope("us-east-1")))
	assert.Len(t, plugin.All(), 1)

	plugin.Clear()
	assert.Empty(t, plugin.All())
}

func TestFake_RefreshAfterDelete(t *testing.T) {
	f := plugintest.New(scope("us-east-1")).Add(resource.Resource{ID: "vol-1", Kind: resource.KindVolume})
	ref := resource.Ref{ID: "vol-1", Kind: resource.KindVolume, Scope: f.Scope()}

	require.NoError(t, f.Delete(context.Background(), ref))

	_, err := f.Refresh(context.Background(), ref)
	assert.True(t, errors.Is(err, plugin.ErrNotFound))
	assert.Len(t, f.MutatingCalls(), 1)
}
