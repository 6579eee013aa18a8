package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/packet"
)

// safeDatagramBytes is the largest payload that fits an Ethernet frame
// without IP fragmentation.
const safeDatagramBytes = 1472

// maxChunkSamples bounds the capture frame size to one second of audio.
const maxChunkSamples = audio.SampleRate

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("server.listen_addr %q is not host:port: %w", cfg.Server.ListenAddr, err))
		}
	}

	// Link
	if cfg.Link.LocalPort < 0 || cfg.Link.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("link.local_port %d is out of range [0, 65535]", cfg.Link.LocalPort))
	}
	if cfg.Link.TargetPort < 0 || cfg.Link.TargetPort > 65535 {
		errs = append(errs, fmt.Errorf("link.target_port %d is out of range [0, 65535]", cfg.Link.TargetPort))
	}
	if cfg.Link.TargetHost != "" && cfg.Link.TargetPort == 0 {
		errs = append(errs, errors.New("link.target_port is required when link.target_host is set"))
	}
	switch mp := cfg.Link.MaxPacketBytes; {
	case mp < audio.BytesPerSample || mp > packet.MaxDatagramBytes:
		errs = append(errs, fmt.Errorf("link.max_packet_bytes %d is out of range [%d, %d]", mp, audio.BytesPerSample, packet.MaxDatagramBytes))
	case mp%audio.BytesPerSample != 0:
		errs = append(errs, fmt.Errorf("link.max_packet_bytes %d must be a multiple of %d", mp, audio.BytesPerSample))
	case mp > safeDatagramBytes:
		slog.Warn("link.max_packet_bytes exceeds a typical MTU; datagrams will be fragmented by IP",
			"max_packet_bytes", mp, "safe", safeDatagramBytes)
	}

	// Audio
	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, mock", cfg.Audio.Backend))
	}
	if cfg.Audio.ChunkSamples <= 0 || cfg.Audio.ChunkSamples > maxChunkSamples {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d is out of range [1, %d]", cfg.Audio.ChunkSamples, maxChunkSamples))
	}
	if hz := cfg.Audio.Mock.ToneHz; hz < 0 || hz > audio.SampleRate/2 {
		errs = append(errs, fmt.Errorf("audio.mock.tone_hz %.1f is out of range [0, %d]", hz, audio.SampleRate/2))
	}
	if a := cfg.Audio.Mock.Amplitude; a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("audio.mock.amplitude %.2f is out of range [0, 1]", a))
	}
	if cfg.Audio.Device != "" && cfg.Audio.Backend == BackendMock {
		slog.Warn("audio.device is ignored by the mock backend", "device", cfg.Audio.Device)
	}

	return errors.Join(errs...)
}
