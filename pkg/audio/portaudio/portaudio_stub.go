//go:build !cgo

package portaudio

import (
	"context"
	"fmt"

	"github.com/MrWong99/pttlink/pkg/audio"
)

// Device is a placeholder used when pttlink is built without cgo.
type Device struct {
	name string
}

// New returns a device whose streams always fail.
func New(deviceName string) *Device {
	return &Device{name: deviceName}
}

// Name returns "portaudio".
func (d *Device) Name() string { return "portaudio" }

// OpenCapture always fails with [audio.ErrDeviceUnavailable].
func (d *Device) OpenCapture(context.Context, audio.Format, int) (audio.Capture, error) {
	return nil, fmt.Errorf("%w: portaudio backend requires cgo", audio.ErrDeviceUnavailable)
}

// OpenPlayback always fails with [audio.ErrDeviceUnavailable].
func (d *Device) OpenPlayback(context.Context, audio.Format) (audio.Playback, error) {
	return nil, fmt.Errorf("%w: portaudio backend requires cgo", audio.ErrDeviceUnavailable)
}

var _ audio.Device = (*Device)(nil)
