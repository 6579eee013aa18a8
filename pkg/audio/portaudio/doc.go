// Package portaudio implements [audio.Device] on top of PortAudio, giving
// pttlink access to the system default (or a named) microphone and speaker.
//
// Streams use PortAudio's blocking I/O API. Input overflows and output
// underflows are counted but not treated as errors, so a slow consumer drops
// samples instead of stalling the transmit loop.
//
// The backend needs cgo and the PortAudio C library. Builds without cgo get a
// stub whose streams always fail with [audio.ErrDeviceUnavailable].
package portaudio
