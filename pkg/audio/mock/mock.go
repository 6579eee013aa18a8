// Package mock provides an in-memory implementation of [audio.Device] for
// tests and for running pttlink without sound hardware.
//
// Capture streams produce scripted frames first, then silence or a sine tone.
// Playback streams record every write so tests can assert on what reached the
// speaker. Failures are injected with the Set* methods, which may be called
// while streams are open.
//
// Typical usage:
//
//	dev := mock.New(mock.WithFrames(frame))
//	c, _ := dev.OpenCapture(ctx, audio.LinkFormat, 1024)
//	pcm, _ := c.ReadFrame(ctx)
package mock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pttlink/pkg/audio"
)

// Device is a mock implementation of [audio.Device]. It is safe for
// concurrent use.
type Device struct {
	frames    [][]byte
	toneHz    float64
	amplitude float64
	interval  time.Duration

	lease audio.Lease

	mu               sync.Mutex
	openCaptureErr   error
	openPlaybackErr  error
	failCaptureAfter int
	playbackErr      error
	written          [][]byte
	captureOpens     int
	playbackOpens    int
	captureCloses    int
	playbackCloses   int
	framesRead       atomic.Int64
}

// Option configures a [Device].
type Option func(*Device)

// WithFrames makes capture streams return the given frames, in order, before
// falling back to generated audio. Frames shorter or longer than the stream's
// frame size are padded with silence or truncated.
func WithFrames(frames ...[]byte) Option {
	return func(d *Device) { d.frames = frames }
}

// WithSineWave makes capture streams generate a sine tone instead of
// silence. amplitude is in [0, 1].
func WithSineWave(frequency, amplitude float64) Option {
	return func(d *Device) {
		d.toneHz = frequency
		d.amplitude = amplitude
	}
}

// WithRealtime paces ReadFrame so each frame takes as long as its audio would
// take to capture. Without it, frames are returned as fast as they are read.
func WithRealtime() Option {
	return func(d *Device) { d.interval = -1 }
}

// WithFrameInterval paces ReadFrame at a fixed interval.
func WithFrameInterval(iv time.Duration) Option {
	return func(d *Device) { d.interval = iv }
}

// New returns a mock device.
func New(opts ...Option) *Device {
	d := &Device{amplitude: 0.5}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetOpenCaptureError makes OpenCapture fail with an error wrapping
// [audio.ErrDeviceUnavailable] and err. nil clears it.
func (d *Device) SetOpenCaptureError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCaptureErr = err
}

// SetOpenPlaybackError makes OpenPlayback fail with an error wrapping
// [audio.ErrDeviceUnavailable] and err. nil clears it.
func (d *Device) SetOpenPlaybackError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openPlaybackErr = err
}

// SetFailCaptureAfter makes ReadFrame fail with [audio.ErrCapture] once n
// frames have been read from a stream. The limit is taken when a stream is
// opened; zero disables the failure.
func (d *Device) SetFailCaptureAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCaptureAfter = n
}

// SetPlaybackError makes every following Write fail with an error wrapping
// [audio.ErrPlayback] and err, on open streams too. nil clears it.
func (d *Device) SetPlaybackError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playbackErr = err
}

// Name returns "mock".
func (d *Device) Name() string { return "mock" }

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, f audio.Format, chunkSamples int) (audio.Capture, error) {
	d.mu.Lock()
	openErr, failAfter := d.openCaptureErr, d.failCaptureAfter
	d.mu.Unlock()
	if openErr != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, openErr)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("mock: chunk samples must be positive, got %d", chunkSamples)
	}
	if err := d.lease.Acquire(audio.DirCapture); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.captureOpens++
	d.mu.Unlock()

	interval := d.interval
	if interval < 0 {
		interval = f.Duration(f.FrameBytes(chunkSamples))
	}
	return &capture{
		dev:       d,
		format:    f,
		frameSize: f.FrameBytes(chunkSamples),
		interval:  interval,
		failAfter: failAfter,
		frames:    d.frames,
	}, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, f audio.Format) (audio.Playback, error) {
	d.mu.Lock()
	openErr := d.openPlaybackErr
	d.mu.Unlock()
	if openErr != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, openErr)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := d.lease.Acquire(audio.DirPlayback); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.playbackOpens++
	d.mu.Unlock()

	return &playback{dev: d}, nil
}

// Written returns copies of every payload written to playback streams of this
// device, in write order.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

// WrittenBytes returns the total number of bytes written to playback.
func (d *Device) WrittenBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.written {
		n += len(w)
	}
	return n
}

// FramesRead returns the total number of frames returned by capture streams.
func (d *Device) FramesRead() int64 { return d.framesRead.Load() }

// CaptureHeld reports whether a capture stream is currently open.
func (d *Device) CaptureHeld() bool { return d.lease.Held(audio.DirCapture) }

// PlaybackHeld reports whether a playback stream is currently open.
func (d *Device) PlaybackHeld() bool { return d.lease.Held(audio.DirPlayback) }

// Stats reports how many streams were opened and closed.
type Stats struct {
	CaptureOpens   int
	CaptureCloses  int
	PlaybackOpens  int
	PlaybackCloses int
}

// Stats returns open/close counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		CaptureOpens:   d.captureOpens,
		CaptureCloses:  d.captureCloses,
		PlaybackOpens:  d.playbackOpens,
		PlaybackCloses: d.playbackCloses,
	}
}

// ─── Capture ──────────────────────────────────────────────────────────────────

type capture struct {
	dev       *Device
	format    audio.Format
	frameSize int
	interval  time.Duration
	failAfter int
	frames    [][]byte

	mu     sync.Mutex
	closed bool
	read   int
	phase  float64
	next   time.Time
}

func (c *capture) ReadFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: %w", audio.ErrCapture, audio.ErrClosed)
	}
	if c.failAfter > 0 && c.read >= c.failAfter {
		return nil, fmt.Errorf("%w: mock device lost after %d frames", audio.ErrCapture, c.read)
	}

	if c.interval > 0 {
		now := time.Now()
		if c.next.IsZero() {
			c.next = now
		}
		c.next = c.next.Add(c.interval)
		if wait := c.next.Sub(now); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	frame := make([]byte, c.frameSize)
	if c.read < len(c.frames) {
		copy(frame, c.frames[c.read])
	} else if c.dev.toneHz > 0 {
		c.generate(frame)
	}
	c.read++
	c.dev.framesRead.Add(1)
	return frame, nil
}

func (c *capture) generate(frame []byte) {
	samples := make([]int16, len(frame)/audio.BytesPerSample)
	rate := float64(c.format.SampleRate)
	for i := 0; i < len(samples); i += c.format.Channels {
		v := int16(c.dev.amplitude * 32767 * math.Sin(2*math.Pi*c.dev.toneHz*c.phase/rate))
		for ch := 0; ch < c.format.Channels && i+ch < len(samples); ch++ {
			samples[i+ch] = v
		}
		c.phase++
		if c.phase >= rate {
			c.phase = 0
		}
	}
	audio.EncodeInto(frame, samples)
}

func (c *capture) Overruns() int64 { return 0 }

func (c *capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.dev.lease.Release(audio.DirCapture)
	c.dev.mu.Lock()
	c.dev.captureCloses++
	c.dev.mu.Unlock()
	return nil
}

// ─── Playback ─────────────────────────────────────────────────────────────────

type playback struct {
	dev *Device

	mu     sync.Mutex
	closed bool
}

func (p *playback) Write(_ context.Context, pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %w", audio.ErrPlayback, audio.ErrClosed)
	}
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if p.dev.playbackErr != nil {
		return fmt.Errorf("%w: %w", audio.ErrPlayback, p.dev.playbackErr)
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.dev.written = append(p.dev.written, buf)
	return nil
}

func (p *playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.dev.lease.Release(audio.DirPlayback)
	p.dev.mu.Lock()
	p.dev.playbackCloses++
	p.dev.mu.Unlock()
	return nil
}

var _ audio.Device = (*Device)(nil)
