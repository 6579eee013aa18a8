package audio

import "errors"

// Sentinel errors returned by [Device], [Capture] and [Playback]
// implementations. Backends wrap the underlying driver error so callers can
// classify failures with errors.Is.
var (
	// ErrDeviceUnavailable indicates there is no usable device or it is
	// already held by another handle.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrCapture indicates the input stream failed mid-stream.
	ErrCapture = errors.New("audio capture failed")

	// ErrPlayback indicates the output stream failed mid-stream.
	ErrPlayback = errors.New("audio playback failed")

	// ErrClosed is returned by operations on a handle after Close.
	ErrClosed = errors.New("audio handle closed")
)
