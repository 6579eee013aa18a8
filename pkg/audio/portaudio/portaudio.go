//go:build cgo

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/pttlink/pkg/audio"
)

// Device is a PortAudio-backed [audio.Device].
type Device struct {
	name  string
	lease audio.Lease
}

// New returns a device using the named PortAudio device for both directions.
// An empty name selects the host API defaults.
func New(deviceName string) *Device {
	return &Device{name: deviceName}
}

// Name returns "portaudio".
func (d *Device) Name() string { return "portaudio" }

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, f audio.Format, chunkSamples int) (audio.Capture, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("portaudio: chunk samples must be positive, got %d", chunkSamples)
	}
	if err := d.lease.Acquire(audio.DirCapture); err != nil {
		return nil, err
	}

	c := &capture{
		buf:     make([]int16, chunkSamples*f.Channels),
		release: func() { d.lease.Release(audio.DirCapture) },
	}
	stream, err := d.open(audio.DirCapture, f, chunkSamples, c.buf)
	if err != nil {
		d.lease.Release(audio.DirCapture)
		return nil, err
	}
	c.stream = stream

	slog.Info("portaudio capture opened",
		"format", f.String(),
		"chunk_samples", chunkSamples,
		"device", d.displayName(),
	)
	return c, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, f audio.Format) (audio.Playback, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := d.lease.Acquire(audio.DirPlayback); err != nil {
		return nil, err
	}

	p := &playback{
		channels: f.Channels,
		release:  func() { d.lease.Release(audio.DirPlayback) },
	}
	stream, err := d.open(audio.DirPlayback, f, pa.FramesPerBufferUnspecified, &p.buf)
	if err != nil {
		d.lease.Release(audio.DirPlayback)
		return nil, err
	}
	p.stream = stream

	slog.Info("portaudio playback opened",
		"format", f.String(),
		"device", d.displayName(),
	)
	return p, nil
}

// open initialises PortAudio, opens and starts a stream in one direction.
// PortAudio reference-counts Initialize/Terminate, so every successful open
// is paired with one Terminate in the handle's Close.
func (d *Device) open(dir audio.Direction, f audio.Format, framesPerBuffer int, buf any) (*pa.Stream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialise portaudio: %w", audio.ErrDeviceUnavailable, err)
	}

	info, err := d.lookup(dir)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}

	params := pa.StreamParameters{
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	dev := pa.StreamDeviceParameters{Device: info, Channels: f.Channels}
	if dir == audio.DirCapture {
		dev.Latency = info.DefaultLowInputLatency
		params.Input = dev
	} else {
		dev.Latency = info.DefaultHighOutputLatency
		params.Output = dev
	}

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: open %s stream on %q: %w", audio.ErrDeviceUnavailable, dir, info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: start %s stream on %q: %w", audio.ErrDeviceUnavailable, dir, info.Name, err)
	}
	return stream, nil
}

// lookup resolves the configured device name, or the host default.
func (d *Device) lookup(dir audio.Direction) (*pa.DeviceInfo, error) {
	if d.name == "" {
		if dir == audio.DirCapture {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range devices {
		if info.Name != d.name {
			continue
		}
		if dir == audio.DirCapture && info.MaxInputChannels > 0 {
			return info, nil
		}
		if dir == audio.DirPlayback && info.MaxOutputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no %s device named %q", dir, d.name)
}

func (d *Device) displayName() string {
	if d.name == "" {
		return "default"
	}
	return d.name
}

// ─── Capture ──────────────────────────────────────────────────────────────────

type capture struct {
	stream   *pa.Stream
	buf      []int16
	overruns atomic.Int64
	release  func()

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

func (c *capture) ReadFrame(_ context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %w", audio.ErrCapture, audio.ErrClosed)
	}
	if err := c.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return nil, fmt.Errorf("%w: %w", audio.ErrCapture, err)
		}
		// The buffer still holds a full frame; the overflowed samples are gone.
		if c.overruns.Add(1) == 1 {
			slog.Warn("portaudio capture overflowed, dropping samples")
		}
	}
	return audio.SamplesToBytes(c.buf), nil
}

func (c *capture) Overruns() int64 { return c.overruns.Load() }

func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = closeStream(c.stream)
		c.release()
	})
	return c.closeErr
}

// ─── Playback ─────────────────────────────────────────────────────────────────

type playback struct {
	stream    *pa.Stream
	channels  int
	buf       []int16
	scratch   []int16
	aligner   audio.Aligner
	underruns atomic.Int64
	release   func()

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func (p *playback) Write(_ context.Context, pcm []byte) error {
	pcm = p.aligner.Align(pcm)
	frames := len(pcm) / (audio.BytesPerSample * p.channels)
	if frames == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %w", audio.ErrPlayback, audio.ErrClosed)
	}

	n := frames * p.channels
	if cap(p.scratch) < n {
		p.scratch = make([]int16, n)
	}
	p.buf = p.scratch[:n]
	audio.DecodeInto(p.buf, pcm)

	if err := p.stream.Write(); err != nil {
		if !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("%w: %w", audio.ErrPlayback, err)
		}
		if p.underruns.Add(1) == 1 {
			slog.Warn("portaudio playback underflowed")
		}
	}
	return nil
}

func (p *playback) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.closeErr = closeStream(p.stream)
		p.release()
	})
	return p.closeErr
}

// closeStream stops and closes s, then drops this handle's PortAudio
// reference.
func closeStream(s *pa.Stream) error {
	var errs []error
	if err := s.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}

var _ audio.Device = (*Device)(nil)
