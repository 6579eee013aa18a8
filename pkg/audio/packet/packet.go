// Package packet splits captured audio frames into datagram-sized fragments.
//
// Fragments carry no header. Each one is a sub-slice of the frame, so a
// receiver can play any fragment on its own; reassembly by concatenation only
// works if fragments arrive complete and in order, which UDP does not promise.
package packet

// DefaultMaxBytes is the default fragment size: 512 samples (32 ms) of
// 16 kHz mono PCM.
const DefaultMaxBytes = 1024

// MaxDatagramBytes is the largest UDP payload over IPv4.
const MaxDatagramBytes = 65507

// Fragment slices frame into consecutive, non-overlapping chunks of at most
// maxBytes. Every chunk except possibly the last is exactly maxBytes long.
// The chunks alias frame; no bytes are copied.
//
// An empty frame yields no fragments. A non-positive maxBytes yields the
// whole frame as a single fragment.
func Fragment(frame []byte, maxBytes int) [][]byte {
	if len(frame) == 0 {
		return nil
	}
	if maxBytes <= 0 || len(frame) <= maxBytes {
		return [][]byte{frame}
	}
	out := make([][]byte, 0, Count(len(frame), maxBytes))
	for off := 0; off < len(frame); off += maxBytes {
		end := min(off+maxBytes, len(frame))
		out = append(out, frame[off:end:end])
	}
	return out
}

// Count returns the number of fragments [Fragment] produces for a frame of n
// bytes.
func Count(n, maxBytes int) int {
	if n <= 0 {
		return 0
	}
	if maxBytes <= 0 {
		return 1
	}
	return (n + maxBytes - 1) / maxBytes
}
