// Package config provides the configuration schema, loader, file watcher and
// audio backend registry for pttlink.
package config

import (
	"log/slog"

	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/packet"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AudioBackend selects the audio device implementation.
type AudioBackend string

const (
	// BackendPortAudio uses the system sound card through PortAudio.
	BackendPortAudio AudioBackend = "portaudio"

	// BackendMock uses an in-memory device that generates silence or a tone
	// and discards playback.
	BackendMock AudioBackend = "mock"
)

// IsValid reports whether b is a recognised backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendPortAudio || b == BackendMock
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Link   LinkConfig   `yaml:"link"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds logging and admin server settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin HTTP server (health,
	// metrics, websocket console), e.g. "127.0.0.1:8080". Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LinkConfig describes the UDP link.
type LinkConfig struct {
	// LocalPort is bound at startup. Zero leaves the session unbound until a
	// port is set from the console.
	LocalPort int `yaml:"local_port"`

	// TargetHost is the peer's address. Empty means 127.0.0.1.
	TargetHost string `yaml:"target_host"`

	// TargetPort is the peer's port. Zero leaves the target unset.
	TargetPort int `yaml:"target_port"`

	// MaxPacketBytes bounds the audio payload of each datagram.
	MaxPacketBytes int `yaml:"max_packet_bytes"`
}

// AudioConfig selects and tunes the audio device.
type AudioConfig struct {
	// Backend selects the device implementation registered in the [Registry].
	Backend AudioBackend `yaml:"backend"`

	// Device names a specific PortAudio device. Empty uses the system default.
	Device string `yaml:"device"`

	// ChunkSamples is the number of samples captured per frame.
	ChunkSamples int `yaml:"chunk_samples"`

	// Mock tunes the mock backend.
	Mock MockAudioConfig `yaml:"mock"`
}

// MockAudioConfig tunes the mock backend's generated capture audio.
type MockAudioConfig struct {
	// ToneHz is the frequency of the generated sine tone. Zero means silence.
	ToneHz float64 `yaml:"tone_hz"`

	// Amplitude of the tone in [0, 1].
	Amplitude float64 `yaml:"amplitude"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Link:   LinkConfig{MaxPacketBytes: packet.DefaultMaxBytes},
		Audio: AudioConfig{
			Backend:      BackendPortAudio,
			ChunkSamples: audio.DefaultChunkSamples,
			Mock:         MockAudioConfig{Amplitude: 0.5},
		},
	}
}
