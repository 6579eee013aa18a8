package audio

import (
	"fmt"
	"time"
)

// Wire format shared by both endpoints of a link. Both sides must agree on
// these values; they are not negotiated.
const (
	// SampleRate is the PCM sample rate in Hz.
	SampleRate = 16000

	// Channels is the number of interleaved channels (mono).
	Channels = 1

	// BytesPerSample is the size of one little-endian int16 sample.
	BytesPerSample = 2

	// DefaultChunkSamples is the number of samples captured per frame.
	DefaultChunkSamples = 1024
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// LinkFormat is the fixed 16 kHz mono format used on the wire.
var LinkFormat = Format{SampleRate: SampleRate, Channels: Channels}

// FrameBytes returns the byte length of a frame holding samples samples per
// channel.
func (f Format) FrameBytes(samples int) int {
	return samples * f.Channels * BytesPerSample
}

// Duration returns the playback duration of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (f.Channels * BytesPerSample)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable description such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Validate reports whether f can be opened by a [Device].
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", f.Channels)
	}
	return nil
}
