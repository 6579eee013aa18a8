package audio

import (
	"fmt"
	"sync"
)

// Direction identifies one side of a [Device].
type Direction int

const (
	// DirCapture is the input side.
	DirCapture Direction = iota

	// DirPlayback is the output side.
	DirPlayback
)

// String returns "capture" or "playback".
func (d Direction) String() string {
	switch d {
	case DirCapture:
		return "capture"
	case DirPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// Lease tracks which directions of a device are currently held. Backends
// embed one to enforce the exclusivity rule of [Device]. The zero value is
// ready to use.
type Lease struct {
	mu   sync.Mutex
	held [2]bool
}

// Acquire marks d as held. It fails with [ErrDeviceUnavailable] if d is
// already held.
func (l *Lease) Acquire(d Direction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[d] {
		return fmt.Errorf("%w: %s stream already open", ErrDeviceUnavailable, d)
	}
	l.held[d] = true
	return nil
}

// Release marks d as free. Releasing a free direction is a no-op.
func (l *Lease) Release(d Direction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[d] = false
}

// Held reports whether d is currently held.
func (l *Lease) Held(d Direction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[d]
}
