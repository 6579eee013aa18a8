package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/pttlink/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.CreateAudio] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// AudioFactory constructs an audio device from its configuration block.
type AudioFactory func(AudioConfig) (audio.Device, error)

// Registry maps audio backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	audio map[AudioBackend]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{audio: make(map[AudioBackend]AudioFactory)}
}

// RegisterAudio registers a factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name AudioBackend, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateAudio builds the device selected by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	dev, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create audio backend %q: %w", cfg.Backend, err)
	}
	return dev, nil
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []AudioBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]AudioBackend, 0, len(r.audio))
	for name := range r.audio {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
