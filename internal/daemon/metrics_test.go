package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/pkg/resource"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newTestMetrics(t *testing.T) (*DaemonMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	dm, err := NewDaemonMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	return dm, reader
}

// TestDaemonMetrics_RecordSweep verifies counter and histogram share the status attribute
func TestDaemonMetrics_RecordSweep(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordSweep(context.Background(), "success", 1500*time.Millisecond)
	dm.RecordSweep(context.Background(), "failed", time.Second)

	metrics := collect(t, reader)

	sweeps, ok := metrics["siivous.daemon.sweeps"]
	require.True(t, ok)
	sum := sweeps.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)
	for _, dp := range sum.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
	}

	duration, ok := metrics["siivous.daemon.sweep.duration"]
	require.True(t, ok)
	hist := duration.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 2)

	var total float64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	assert.InDelta(t, 2.5, total, 0.001)

	_, ok = metrics["siivous.daemon.last_sweep"]
	assert.True(t, ok)
}

// TestDaemonMetrics_RecordOutcomes counts resources per provider and kind
func TestDaemonMetrics_RecordOutcomes(t *testing.T) {
	dm, reader := newTestMetrics(t)

	out := func(provider string, kind resource.Kind) resource.Outcome {
		return resource.Outcome{Resource: resource.Resource{Provider: provider, Kind: kind}}
	}
	dm.RecordOutcomes(context.Background(), &report.Report{Outcomes: []resource.Outcome{
		out("aws", resource.KindInstance),
		out("aws", resource.KindInstance),
		out("aws", resource.KindVolume),
		out("azure", resource.KindSnapshot),
	}})

	m, ok := collect(t, reader)["siivous.daemon.resources"]
	require.True(t, ok)
	gauge := m.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 3)

	for _, dp := range gauge.DataPoints {
		attrs := dp.Attributes.ToSlice()
		if assert.Len(t, attrs, 2) && attrs[0] == attribute.String("cloud.provider", "aws") && attrs[1] == attribute.String("resource.kind", "instance") {
			assert.Equal(t, int64(2), dp.Value)
		}
	}
}

// TestDaemonMetrics_NilSafe verifies a daemon without metrics still records nothing safely
func TestDaemonMetrics_NilSafe(t *testing.T) {
	var dm *DaemonMetrics

	assert.NotPanics(t, func() {
		dm.RecordSweep(context.Background(), "success", time.Second)
		dm.RecordOutcomes(context.Background(), &report.Report{})
	})
}
