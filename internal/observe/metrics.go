// Package observe provides application-wide observability primitives for
// pttlink: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that the admin server can
// expose them on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pttlink metrics.
const meterName = "github.com/MrWong99/pttlink"

// Direction attribute values.
const (
	DirTX = "tx"
	DirRX = "rx"
)

// Metrics holds all OpenTelemetry metric instruments for the link.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Transmit path ---

	// FramesCaptured counts audio frames read from the capture device.
	FramesCaptured metric.Int64Counter

	// DatagramsSent counts fragments handed to the socket successfully.
	DatagramsSent metric.Int64Counter

	// SendErrors counts fragments whose send failed.
	SendErrors metric.Int64Counter

	// CaptureOverruns counts input overflow events (samples dropped by the
	// device rather than surfaced as errors).
	CaptureOverruns metric.Int64Counter

	// FrameSendDuration tracks the time from frame capture to the last
	// fragment being handed to the socket.
	FrameSendDuration metric.Float64Histogram

	// --- Receive path ---

	// DatagramsReceived counts datagrams read from the socket.
	DatagramsReceived metric.Int64Counter

	// ReceiveErrors counts failed socket reads.
	ReceiveErrors metric.Int64Counter

	// PlaybackErrors counts failed playback writes.
	PlaybackErrors metric.Int64Counter

	// --- Both directions ---

	// Bytes counts PCM payload bytes. Use with attribute:
	//   attribute.String("direction", DirTX|DirRX)
	Bytes metric.Int64Counter

	// --- Talk gate ---

	// TalkActivations counts transmit activations.
	TalkActivations metric.Int64Counter

	// TalkActive is 1 while a transmit loop is running, 0 otherwise.
	TalkActive metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-frame send latency. A frame is 64 ms of audio, so anything near that
// means the transmit loop cannot keep up.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.064, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Transmit.
	if met.FramesCaptured, err = m.Int64Counter("pttlink.frames.captured",
		metric.WithDescription("Audio frames read from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.DatagramsSent, err = m.Int64Counter("pttlink.datagrams.sent",
		metric.WithDescription("Datagrams handed to the socket."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("pttlink.send.errors",
		metric.WithDescription("Datagrams that failed to send."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverruns, err = m.Int64Counter("pttlink.capture.overruns",
		metric.WithDescription("Capture overflow events; overflowed samples are dropped."),
	); err != nil {
		return nil, err
	}
	if met.FrameSendDuration, err = m.Float64Histogram("pttlink.frame.send.duration",
		metric.WithDescription("Time to fragment and send one captured frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Receive.
	if met.DatagramsReceived, err = m.Int64Counter("pttlink.datagrams.received",
		metric.WithDescription("Datagrams read from the socket."),
	); err != nil {
		return nil, err
	}
	if met.ReceiveErrors, err = m.Int64Counter("pttlink.receive.errors",
		metric.WithDescription("Failed socket reads."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("pttlink.playback.errors",
		metric.WithDescription("Failed playback writes."),
	); err != nil {
		return nil, err
	}

	if met.Bytes, err = m.Int64Counter("pttlink.bytes",
		metric.WithDescription("PCM payload bytes by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Talk gate.
	if met.TalkActivations, err = m.Int64Counter("pttlink.talk.activations",
		metric.WithDescription("Transmit activations started."),
	); err != nil {
		return nil, err
	}
	if met.TalkActive, err = m.Int64UpDownCounter("pttlink.talk.active",
		metric.WithDescription("1 while transmitting, 0 otherwise."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pttlink.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordBytes adds n payload bytes in the given direction.
func (m *Metrics) RecordBytes(ctx context.Context, direction string, n int) {
	m.Bytes.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordSend records the outcome of one fragment send.
func (m *Metrics) RecordSend(ctx context.Context, n int, err error) {
	if err != nil {
		m.SendErrors.Add(ctx, 1)
		return
	}
	m.DatagramsSent.Add(ctx, 1)
	m.RecordBytes(ctx, DirTX, n)
}

// RecordReceive records one datagram read from the socket.
func (m *Metrics) RecordReceive(ctx context.Context, n int) {
	m.DatagramsReceived.Add(ctx, 1)
	m.RecordBytes(ctx, DirRX, n)
}
