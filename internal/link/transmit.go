package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/packet"
)

// Sender hands one datagram to the network. [transport.Channel] implements
// it.
type Sender interface {
	Send(p []byte) error
}

// TransmitConfig configures a [TransmitLoop].
type TransmitConfig struct {
	// Device provides the capture stream. Required.
	Device audio.Device

	// Sender receives each fragment. Required.
	Sender Sender

	// Gate is the talk gate. The loop runs while it is true. Required.
	Gate *atomic.Bool

	// Format of captured audio. Default: audio.LinkFormat.
	Format audio.Format

	// ChunkSamples per captured frame. Default: audio.DefaultChunkSamples.
	ChunkSamples int

	// MaxPacketBytes bounds each datagram. Default: packet.DefaultMaxBytes.
	MaxPacketBytes int

	// ActivationID labels spans and logs for this activation.
	ActivationID string

	Reporter *status.Reporter
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// TransmitLoop runs one talk activation: it opens the capture device, then
// reads, fragments and sends frames until the gate is released.
type TransmitLoop struct {
	cfg TransmitConfig
}

// NewTransmitLoop fills defaults and returns a loop ready to Run.
func NewTransmitLoop(cfg TransmitConfig) *TransmitLoop {
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.LinkFormat
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = audio.DefaultChunkSamples
	}
	if cfg.MaxPacketBytes <= 0 {
		cfg.MaxPacketBytes = packet.DefaultMaxBytes
	}
	if cfg.Reporter == nil {
		cfg.Reporter = status.NewReporter(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TransmitLoop{cfg: cfg}
}

// Run executes the activation. It returns nil once the gate is released or
// ctx is cancelled, and an error wrapping [audio.ErrDeviceUnavailable] or
// [audio.ErrCapture] when the microphone cannot be opened or is lost. The
// capture device is closed on every return path.
//
// The gate is checked before each frame, so a release takes effect after the
// frame in flight has been sent. A failed send is reported and the loop moves
// on to the next fragment.
func (l *TransmitLoop) Run(ctx context.Context) (err error) {
	cfg := l.cfg
	m := cfg.Metrics

	ctx, span := observe.StartSpan(ctx, "link.transmit",
		trace.WithAttributes(
			attribute.String("pttlink.activation", cfg.ActivationID),
			attribute.Int("pttlink.max_packet_bytes", cfg.MaxPacketBytes),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := observe.Logger(ctx, cfg.Logger).With("activation", cfg.ActivationID)

	capture, err := cfg.Device.OpenCapture(ctx, cfg.Format, cfg.ChunkSamples)
	if err != nil {
		cfg.Reporter.Report(status.KindDeviceUnavailable, "cannot open microphone", err)
		return fmt.Errorf("link: transmit: %w", err)
	}
	defer func() {
		if cerr := capture.Close(); cerr != nil {
			log.Warn("link: close capture", "err", cerr)
		}
	}()

	m.TalkActivations.Add(ctx, 1)
	m.TalkActive.Add(ctx, 1)
	defer m.TalkActive.Add(context.WithoutCancel(ctx), -1)

	var (
		frames   int64
		overruns int64
	)
	for cfg.Gate.Load() {
		frame, err := capture.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			cfg.Reporter.Report(status.KindCaptureFailed, "microphone lost", err)
			return fmt.Errorf("link: transmit: %w", err)
		}
		frames++
		m.FramesCaptured.Add(ctx, 1)

		start := time.Now()
		for i, frag := range packet.Fragment(frame, cfg.MaxPacketBytes) {
			serr := cfg.Sender.Send(frag)
			m.RecordSend(ctx, len(frag), serr)
			if serr != nil {
				cfg.Reporter.Report(status.KindSendFailed,
					fmt.Sprintf("frame %d fragment %d not sent", frames, i+1), serr)
			}
		}
		m.FrameSendDuration.Record(ctx, time.Since(start).Seconds())

		if o := capture.Overruns(); o > overruns {
			m.CaptureOverruns.Add(ctx, o-overruns)
			overruns = o
		}
	}

	span.SetAttributes(attribute.Int64("pttlink.frames", frames))
	log.Debug("link: transmit finished", "frames", frames, "overruns", overruns)
	return nil
}

// isDeviceError reports whether err came from the audio device rather than
// the network.
func isDeviceError(err error) bool {
	return errors.Is(err, audio.ErrDeviceUnavailable) || errors.Is(err, audio.ErrCapture)
}
