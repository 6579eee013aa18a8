package link_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testMetrics returns isolated metrics and the reader that collects them.
func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter returns the total of an int64 sum metric, or 0 when absent.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// eventLog collects status events from a reporter.
type eventLog struct {
	ch     <-chan status.Event
	cancel func()
	seen   []status.Event
}

func watchEvents(t *testing.T, r *status.Reporter) *eventLog {
	t.Helper()
	ch, cancel := r.Subscribe(256)
	t.Cleanup(cancel)
	return &eventLog{ch: ch, cancel: cancel}
}

// drain moves buffered events into seen and returns them.
func (l *eventLog) drain() []status.Event {
	for {
		select {
		case ev, ok := <-l.ch:
			if !ok {
				return l.seen
			}
			l.seen = append(l.seen, ev)
		default:
			return l.seen
		}
	}
}

func (l *eventLog) count(kind status.Kind) int {
	n := 0
	for _, ev := range l.drain() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// freePort returns a UDP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	_ = pc.Close()
	return port
}

// bindFree binds a channel on a free port, retrying if another test grabs
// the port first.
func bindFree(t *testing.T) *transport.Channel {
	t.Helper()
	var err error
	for range 5 {
		var ch *transport.Channel
		if ch, err = transport.Bind(freePort(t)); err == nil {
			return ch
		}
	}
	t.Fatalf("Bind: %v", err)
	return nil
}
