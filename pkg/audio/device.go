// Package audio defines the interfaces and types for capture and playback
// hardware used by pttlink.
//
// The primary abstractions are:
//
//   - [Device]: opens exclusive input and output streams.
//   - [Capture]: a blocking source of fixed-size PCM frames.
//   - [Playback]: a blocking sink for PCM bytes of any even length.
//
// All audio is little-endian signed 16-bit PCM. The link itself always uses
// [LinkFormat] (16 kHz mono). Implementations live in backend packages
// (audio/portaudio, audio/mock) and are selected by name through the config
// registry.
//
// This package lives under pkg/ because external code may provide additional
// backends.
package audio

import "context"

// Capture is an open input stream. Exactly one goroutine reads from it.
type Capture interface {
	// ReadFrame blocks until one full frame is available and returns its
	// bytes. The returned slice is owned by the caller.
	//
	// Buffer overflows are not errors: overflowed samples are dropped, the
	// read continues and the drop is counted in [Capture.Overruns]. Device
	// loss is reported as an error wrapping [ErrCapture].
	ReadFrame(ctx context.Context) ([]byte, error)

	// Overruns returns the number of overflow events observed so far.
	Overruns() int64

	// Close stops the stream and releases the device. It is safe to call
	// Close more than once.
	Close() error
}

// Playback is an open output stream. Exactly one goroutine writes to it.
type Playback interface {
	// Write blocks until pcm has been queued for playback. The slice is not
	// retained after Write returns. Device loss is reported as an error
	// wrapping [ErrPlayback].
	Write(ctx context.Context, pcm []byte) error

	// Close stops the stream and releases the device. It is safe to call
	// Close more than once.
	Close() error
}

// Device opens capture and playback streams on one piece of hardware.
//
// Each direction is exclusive: opening a second capture while one is still
// open fails with [ErrDeviceUnavailable], and likewise for playback.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenCapture acquires the input stream. chunkSamples is the number of
	// samples per channel returned by each [Capture.ReadFrame].
	OpenCapture(ctx context.Context, f Format, chunkSamples int) (Capture, error)

	// OpenPlayback acquires the output stream.
	OpenPlayback(ctx context.Context, f Format) (Playback, error)

	// Name returns the backend name (e.g. "portaudio", "mock").
	Name() string
}
