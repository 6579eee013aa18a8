package link_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pttlink/internal/link"
	"github.com/MrWong99/pttlink/internal/resilience"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/internal/transport"
	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/mock"
)

type rxItem struct {
	data []byte
	err  error
}

// scriptedReceiver replays items, then reports the socket closed.
type scriptedReceiver struct {
	mu    sync.Mutex
	items []rxItem
}

func (r *scriptedReceiver) Receive(buf []byte) (int, net.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return 0, nil, net.ErrClosed
	}
	it := r.items[0]
	r.items = r.items[1:]
	if it.err != nil {
		return 0, nil, it.err
	}
	return copy(buf, it.data), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6000}, nil
}

func openPlayback(t *testing.T, dev *mock.Device) audio.Playback {
	t.Helper()
	pb, err := dev.OpenPlayback(context.Background(), audio.LinkFormat)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	t.Cleanup(func() { _ = pb.Close() })
	return pb
}

func TestReceiveLoop_ToleratesLossAndErrors(t *testing.T) {
	t.Parallel()

	// 40 numbered datagrams, a random subset of which is "lost" in transit,
	// interleaved with transient socket errors.
	rng := rand.New(rand.NewPCG(7, 11))
	var (
		items []rxItem
		want  [][]byte
	)
	for i := range 40 {
		if i%9 == 4 {
			items = append(items, rxItem{err: errors.New("connection refused")})
		}
		if rng.IntN(3) == 0 {
			continue
		}
		d := bytes.Repeat([]byte{byte(i)}, 2*(1+rng.IntN(512)))
		items = append(items, rxItem{data: d})
		want = append(want, d)
	}

	dev := mock.New()
	reporter := status.NewReporter(discardLogger())
	events := watchEvents(t, reporter)
	metrics, reader := testMetrics(t)

	loop := link.NewReceiveLoop(link.ReceiveConfig{
		Receiver: &scriptedReceiver{items: items},
		Playback: openPlayback(t, dev),
		Reporter: reporter,
		Metrics:  metrics,
		Logger:   discardLogger(),
	})

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop blocked")
	}

	got := dev.Written()
	if len(got) != len(want) {
		t.Fatalf("played %d datagrams, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("datagram %d played out of order or altered", i)
		}
	}
	if got := events.count(status.KindReceiveFailed); got == 0 {
		t.Error("socket errors were not reported")
	}
	if got := counter(t, reader, "pttlink.datagrams.received"); got != int64(len(want)) {
		t.Errorf("datagrams.received = %d, want %d", got, len(want))
	}
}

func TestReceiveLoop_OddDatagramTrimmed(t *testing.T) {
	t.Parallel()

	dev := mock.New()
	loop := link.NewReceiveLoop(link.ReceiveConfig{
		Receiver: &scriptedReceiver{items: []rxItem{{data: []byte{1, 2, 3}}, {data: []byte{9}}}},
		Playback: openPlayback(t, dev),
		Logger:   discardLogger(),
	})
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := dev.Written()
	if len(got) != 1 || !bytes.Equal(got[0], []byte{1, 2}) {
		t.Fatalf("played %v, want [[1 2]]", got)
	}
}

func TestReceiveLoop_PlaybackFailureStops(t *testing.T) {
	t.Parallel()

	dev := mock.New()
	dev.SetPlaybackError(errors.New("device unplugged"))
	reporter := status.NewReporter(discardLogger())
	events := watchEvents(t, reporter)

	loop := link.NewReceiveLoop(link.ReceiveConfig{
		Receiver: &scriptedReceiver{items: []rxItem{{data: make([]byte, 1024)}, {data: make([]byte, 1024)}}},
		Playback: openPlayback(t, dev),
		Reporter: reporter,
		Logger:   discardLogger(),
	})
	err := loop.Run(context.Background())
	if !errors.Is(err, audio.ErrPlayback) {
		t.Fatalf("Run error = %v, want ErrPlayback", err)
	}
	if got := events.count(status.KindPlaybackFailed); got != 1 {
		t.Errorf("playback_failed events = %d, want 1", got)
	}
}

func TestReceiveLoop_BreakerPausesOnPersistentErrors(t *testing.T) {
	t.Parallel()

	var items []rxItem
	for range 3 {
		items = append(items, rxItem{err: errors.New("socket broken")})
	}
	items = append(items, rxItem{data: []byte{0, 0}})

	dev := mock.New()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 30 * time.Millisecond,
		Logger:       discardLogger(),
	})
	loop := link.NewReceiveLoop(link.ReceiveConfig{
		Receiver: &scriptedReceiver{items: items},
		Playback: openPlayback(t, dev),
		Breaker:  breaker,
		Logger:   discardLogger(),
	})

	start := time.Now()
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two errors open the breaker; the third read waits out one reset period.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("loop finished in %v, expected a pause of about 30ms", elapsed)
	}
	if len(dev.Written()) != 1 {
		t.Errorf("played %d datagrams, want 1", len(dev.Written()))
	}
}

func TestReceiveLoop_RealSocketSkipsMissingDatagrams(t *testing.T) {
	t.Parallel()

	rx := bindFree(t)
	tx := bindFree(t)
	t.Cleanup(func() { _ = tx.Close() })
	target, err := transport.ResolveTarget("", rx.Port())
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	tx.SetTarget(target)

	dev := mock.New()
	loop := link.NewReceiveLoop(link.ReceiveConfig{
		Receiver: rx,
		Playback: openPlayback(t, dev),
		Logger:   discardLogger(),
	})
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	// Send only the even-numbered datagrams of a 10-datagram stream.
	for i := 0; i < 10; i += 2 {
		if err := tx.Send(bytes.Repeat([]byte{byte(i)}, 64)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	waitFor(t, 2*time.Second, "datagrams played", func() bool { return len(dev.Written()) == 5 })

	_ = rx.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run after close: %v", err)
	}
}
