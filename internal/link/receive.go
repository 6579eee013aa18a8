package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/resilience"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/packet"
)

// Receiver reads one datagram. [transport.Channel] implements it.
type Receiver interface {
	Receive(buf []byte) (int, net.Addr, error)
}

// ReceiveConfig configures a [ReceiveLoop].
type ReceiveConfig struct {
	// Receiver is the socket to read from. Required.
	Receiver Receiver

	// Playback is where every datagram is written. Required.
	Playback audio.Playback

	// Breaker throttles reads after repeated socket errors. Default: a
	// breaker that opens after 5 consecutive errors for 1s.
	Breaker *resilience.CircuitBreaker

	Reporter *status.Reporter
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// ReceiveLoop plays inbound datagrams in arrival order. There is no jitter
// buffer, reordering or deduplication: what arrives is what is heard.
type ReceiveLoop struct {
	cfg ReceiveConfig
}

// NewReceiveLoop fills defaults and returns a loop ready to Run.
func NewReceiveLoop(cfg ReceiveConfig) *ReceiveLoop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = status.NewReporter(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "receive",
			Logger: cfg.Logger,
		})
	}
	return &ReceiveLoop{cfg: cfg}
}

// Run reads until the receiver is closed or ctx is cancelled, returning nil
// in both cases. Socket errors are reported and skipped. A playback failure
// is reported and ends the loop with an error wrapping [audio.ErrPlayback].
func (l *ReceiveLoop) Run(ctx context.Context) error {
	cfg := l.cfg
	m := cfg.Metrics
	buf := make([]byte, packet.MaxDatagramBytes)
	var align audio.Aligner

	for {
		probe, err := cfg.Breaker.Wait(ctx)
		if err != nil {
			return nil
		}

		n, from, err := cfg.Receiver.Receive(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			cfg.Breaker.Record(probe, err)
			m.ReceiveErrors.Add(ctx, 1)
			cfg.Reporter.Report(status.KindReceiveFailed, "receive error", err)
			continue
		}
		cfg.Breaker.Record(probe, nil)
		m.RecordReceive(ctx, n)

		pcm := align.Align(buf[:n])
		if len(pcm) == 0 {
			continue
		}
		if err := cfg.Playback.Write(ctx, pcm); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.PlaybackErrors.Add(ctx, 1)
			cfg.Reporter.Report(status.KindPlaybackFailed, "speaker lost", err)
			cfg.Logger.Warn("link: receive loop stopped", "from", from, "err", err)
			return fmt.Errorf("link: receive: %w", err)
		}
	}
}
