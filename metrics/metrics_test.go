package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestManagerRecordsFlow(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewManager(mp)

	ctx := context.Background()
	m.Launched(ctx)
	m.Probed(ctx, "cross_origin")
	m.Probed(ctx, "cross_origin")
	m.Finished(ctx, "code", 2*time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		got[m.Name] = m
	}

	launches := got["oauthpopup.launches"].Data.(metricdata.Sum[int64])
	require.Len(t, launches.DataPoints, 1)
	assert.Equal(t, int64(1), launches.DataPoints[0].Value)

	probes := got["oauthpopup.probes"].Data.(metricdata.Sum[int64])
	require.Len(t, probes.DataPoints, 1)
	assert.Equal(t, int64(2), probes.DataPoints[0].Value)
	v, ok := probes.DataPoints[0].Attributes.Value(attribute.Key("classification"))
	require.True(t, ok)
	assert.Equal(t, "cross_origin", v.AsString())

	outcomes := got["oauthpopup.outcomes"].Data.(metricdata.Sum[int64])
	require.Len(t, outcomes.DataPoints, 1)
	v, ok = outcomes.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	require.True(t, ok)
	assert.Equal(t, "code", v.AsString())

	duration := got["oauthpopup.flow_duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
	assert.InDelta(t, 2.0, duration.DataPoints[0].Sum, 0.001)
}
