package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM into int16 samples. A trailing
// odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// DecodeInto decodes little-endian PCM into dst and returns the number of
// samples written. It never writes past len(dst).
func DecodeInto(dst []int16, pcm []byte) int {
	n := min(len(dst), len(pcm)/BytesPerSample)
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return n
}

// EncodeInto encodes samples into dst as little-endian PCM and returns the
// number of bytes written. It never writes past len(dst).
func EncodeInto(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/BytesPerSample)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * BytesPerSample
}

// Aligner trims PCM payloads to whole samples. It logs a warning the first
// time it has to drop a byte. Create one per stream.
type Aligner struct {
	warned sync.Once
}

// Align returns pcm truncated to an even length.
func (a *Aligner) Align(pcm []byte) []byte {
	if len(pcm)%BytesPerSample == 0 {
		return pcm
	}
	a.warned.Do(func() {
		slog.Warn("audio: odd byte count in PCM payload, dropping trailing byte",
			"bytes", len(pcm),
		)
	})
	return pcm[:len(pcm)-1]
}
