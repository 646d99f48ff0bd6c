package taskmill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != meterName {
			continue
		}
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt64(t *testing.T, m metricdata.Metrics) (total int64, loops []string) {
	t.Helper()
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			total += dp.Value
			if v, ok := dp.Attributes.Value(attribute.Key("loop")); ok {
				loops = append(loops, v.AsString())
			}
		}
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			total += dp.Value
			if v, ok := dp.Attributes.Value(attribute.Key("loop")); ok {
				loops = append(loops, v.AsString())
			}
		}
	default:
		t.Fatalf("unexpected data type %T for %s", m.Data, m.Name)
	}
	return total, loops
}

func TestMetrics_ObserveStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	s := startScheduler(t, WithWorkers(2), WithMeterProvider(mp))
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Submit(func(w *Worker) {
			assert.NoError(t, w.SubmitRender(func(*RenderAgent) {}))
		}))
	}
	require.NoError(t, s.Wait(testContext(t)))

	got := collect(t, reader)
	for _, name := range []string{
		"taskmill.jobs.executed",
		"taskmill.jobs.stolen",
		"taskmill.jobs.failed",
		"taskmill.jobs.outstanding",
		"taskmill.submit.busy",
		"taskmill.deque.size",
		"taskmill.deque.retired",
	} {
		require.Contains(t, got, name)
	}

	executed, loops := sumInt64(t, got["taskmill.jobs.executed"])
	assert.EqualValues(t, 100, executed)
	assert.ElementsMatch(t, []string{"worker-0", "worker-1", "render"}, loops)

	outstanding, _ := sumInt64(t, got["taskmill.jobs.outstanding"])
	assert.Zero(t, outstanding)

	_, dequeLoops := sumInt64(t, got["taskmill.deque.size"])
	assert.ElementsMatch(t, []string{"worker-0", "worker-1"}, dequeLoops)

	dp := got["taskmill.submit.busy"].Data.(metricdata.Sum[int64]).DataPoints
	require.Len(t, dp, 1)
	id, ok := dp[0].Attributes.Value(attribute.Key("scheduler.id"))
	require.True(t, ok)
	assert.Equal(t, s.ID(), id.AsString())
}

func TestMetrics_RegisteredOnStart(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	s := newTestScheduler(t, WithWorkers(1), WithMeterProvider(mp))
	assert.Empty(t, collect(t, reader))

	require.NoError(t, s.Start(context.Background()))
	assert.NotEmpty(t, collect(t, reader))
}

func TestMetrics_UnregisteredOnStop(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	s := startScheduler(t, WithWorkers(1), WithMeterProvider(mp))
	require.NotEmpty(t, collect(t, reader))

	// observable instruments report nothing once the callback is gone
	require.NoError(t, s.Stop())
	for _, m := range collect(t, reader) {
		switch data := m.Data.(type) {
		case metricdata.Sum[int64]:
			assert.Empty(t, data.DataPoints, m.Name)
		case metricdata.Gauge[int64]:
			assert.Empty(t, data.DataPoints, m.Name)
		}
	}
}
