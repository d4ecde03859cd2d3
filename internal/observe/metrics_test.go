package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.Truef(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v.AsString() == attr.Value.AsString() {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestRecordPlaybackItem(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlaybackItem(ctx, StatusPlayed)
	m.RecordPlaybackItem(ctx, StatusPlayed)
	m.RecordPlaybackItem(ctx, StatusDecodeFailed)

	require.Equal(t, int64(2), counterValue(t, reader, "voicechat.playback.items", attribute.String("status", StatusPlayed)))
	require.Equal(t, int64(1), counterValue(t, reader, "voicechat.playback.items", attribute.String("status", StatusDecodeFailed)))
}

func TestRecordMessages(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessageReceived(ctx, "audio")
	m.RecordMessageDiscarded(ctx, "malformed")
	m.RecordFrameDropped(ctx, "closed")

	require.Equal(t, int64(1), counterValue(t, reader, "voicechat.messages.received", attribute.String("type", "audio")))
	require.Equal(t, int64(1), counterValue(t, reader, "voicechat.messages.discarded", attribute.String("reason", "malformed")))
	require.Equal(t, int64(1), counterValue(t, reader, "voicechat.frames.dropped", attribute.String("reason", "closed")))
}

func TestOrDefault(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.Same(t, m, OrDefault(m))
	require.Same(t, DefaultMetrics(), OrDefault(nil))
}
