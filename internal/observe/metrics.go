// Package observe provides the OpenTelemetry metrics of the voice chat client
// and an optional Prometheus exporter to scrape them.
//
// Components accept a *Metrics and fall back to [DefaultMetrics], which
// records against the global meter provider. Tests should use [NewMetrics]
// with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/mgoltzsche/voice-chat"

// Playback item outcomes.
const (
	StatusPlayed       = "played"
	StatusDecodeFailed = "decode_failed"
	StatusTimeout      = "timeout"
	StatusPlayFailed   = "play_failed"
	StatusFlushed      = "flushed"
)

// Metrics holds the metric instruments of the pipeline.
type Metrics struct {
	// FramesSent counts PCM frames written to the channel.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that were not sent. Attribute: reason.
	FramesDropped metric.Int64Counter

	// MessagesReceived counts inbound messages by type.
	MessagesReceived metric.Int64Counter

	// MessagesDiscarded counts inbound messages that were discarded. Attribute: reason.
	MessagesDiscarded metric.Int64Counter

	// PlaybackItems counts the outcome of queued audio payloads. Attribute: status.
	PlaybackItems metric.Int64Counter

	// DecodeDuration tracks how long decoding a payload took.
	DecodeDuration metric.Float64Histogram

	// QueueLength tracks the number of payloads waiting for playback.
	QueueLength metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voicechat.frames.sent",
		metric.WithDescription("Audio frames sent to the backend."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicechat.frames.dropped",
		metric.WithDescription("Audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("voicechat.messages.received",
		metric.WithDescription("Inbound messages by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesDiscarded, err = m.Int64Counter("voicechat.messages.discarded",
		metric.WithDescription("Inbound messages discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("voicechat.playback.items",
		metric.WithDescription("Queued audio payloads by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("voicechat.decode.duration",
		metric.WithDescription("Latency of decoding an audio payload."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueLength, err = m.Int64UpDownCounter("voicechat.playback.queue_length",
		metric.WithDescription("Audio payloads waiting for playback."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance that uses the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m or the default metrics if m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordMessageReceived(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) RecordMessageDiscarded(ctx context.Context, reason string) {
	m.MessagesDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordPlaybackItem(ctx context.Context, status string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
