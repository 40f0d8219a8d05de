package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/pkg/resource"
)

func outcome(region string, kind resource.Kind, name, id string, action resource.Action) resource.Outcome {
	return resource.Outcome{
		Resource: resource.Resource{ID: id, Name: name, Kind: kind, Provider: "aws", Region: region, State: resource.StateRunning},
		Action:   action,
	}
}

func TestSink_OrdersByScopeKindNameID(t *testing.T) {
	s := NewSink()
	s.Record(outcome("us-west-2", resource.KindInstance, "a", "i-9", resource.ActionSkippedFresh))
	s.Record(outcome("us-east-1", resource.KindSnapshot, "a", "snap-1", resource.ActionDestroyed))
	s.Record(outcome("us-east-1", resource.KindInstance, "web", "i-2", resource.ActionTagged))
	s.Record(outcome("us-east-1", resource.KindInstance, "web", "i-1", resource.ActionTagged))
	s.Record(outcome("us-east-1", resource.KindVolume, "", "vol-1", resource.ActionSkippedInUse))

	var ids []string
	for _, o := range s.Outcomes() {
		ids = append(ids, o.Resource.ID)
	}
	assert.Equal(t, []string{"i-1", "i-2", "vol-1", "snap-1", "i-9"}, ids)
}

func TestSink_ConcurrentRecord(t *testing.T) {
	s := NewSink()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(outcome("us-east-1", resource.KindVolume, "", fmt.Sprintf("vol-%03d", i), resource.ActionDestroyed))
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Outcomes(), 100)
}

func TestSink_SameResourceReplaced(t *testing.T) {
	s := NewSink()
	s.Record(outcome("us-east-1", resource.KindInstance, "web", "i-1", resource.ActionTagged))
	s.Record(outcome("us-east-1", resource.KindInstance, "web", "i-1", resource.ActionFailed))

	require.Len(t, s.Outcomes(), 1)
	assert.Equal(t, resource.ActionFailed, s.Outcomes()[0].Action)
}

func TestReport_Summary(t *testing.T) {
	r := &Report{Outcomes: []resource.Outcome{
		outcome("us-east-1", resource.KindInstance, "a", "i-1", resource.ActionDestroyed),
		outcome("us-east-1", resource.KindInstance, "b", "i-2", resource.ActionTagged),
		outcome("us-east-1", resource.KindInstance, "c", "i-3", resource.ActionFailed),
		outcome("us-east-1", resource.KindInstance, "d", "i-4", resource.ActionSkippedFresh),
		outcome("us-east-1", resource.KindInstance, "e", "i-5", resource.ActionSkippedFresh),
	}}

	s := r.Summary()
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 1, s.Destroyed)
	assert.Equal(t, 1, s.Tagged)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 2, s.ByAction[resource.ActionSkippedFresh])
	assert.Equal(t, resource.ActionFailed, s.Actions()[0])
}

func TestActionLabel(t *testing.T) {
	o := outcome("us-east-1", resource.KindInstance, "a", "i-1", resource.ActionDestroyed)
	assert.Equal(t, "DESTROYED", ActionLabel(o))

	o.DryRun = true
	assert.Equal(t, "DESTROYED (dry-run)", ActionLabel(o))

	o.Action = resource.ActionSkippedFresh
	assert.Equal(t, "SKIPPED_FRESH", ActionLabel(o))

	o.Action = resource.ActionFailed
	o.Err = errors.New("UnauthorizedOperation")
	assert.Equal(t, "ACTION_FAILED: UnauthorizedOperation", ActionLabel(o))
}

func TestRender_Table(t *testing.T) {
	r := &Report{DryRun: true, Outcomes: []resource.Outcome{
		outcome("us-east-1", resource.KindInstance, "web", "i-1", resource.ActionTagged),
	}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r, FormatTable, false))

	out := buf.String()
	for _, want := range []string{"RESOURCE", "web", "instance", "TAGGED", "aws/us-east-1", "1 evaluated", "(dry run)"} {
		assert.Contains(t, out, want)
	}
}

func TestRender_JSON(t *testing.T) {
	o := outcome("us-east-1", resource.KindVolume, "", "vol-1", resource.ActionFailed)
	o.Err = errors.New("VolumeInUse")
	r := &Report{
		RunID:           "run-1",
		Interrupted:     true,
		Unevaluated:     3,
		Outcomes:        []resource.Outcome{o},
		DiscoveryErrors: []error{errors.New("aws/eu-west-1 snapshot: denied")},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r, FormatJSON, false))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, true, got["interrupted"])
	assert.Equal(t, float64(3), got["unevaluated"])

	outcomes := got["outcomes"].([]any)
	require.Len(t, outcomes, 1)
	first := outcomes[0].(map[string]any)
	assert.Equal(t, "vol-1", first["name"])
	assert.Equal(t, "VolumeInUse", first["error"])
	assert.True(t, strings.Contains(buf.String(), "discovery_errors"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}
