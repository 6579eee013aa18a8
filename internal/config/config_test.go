package config_test

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/pttlink/internal/config"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		valid bool
		slog  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"", false, slog.LevelInfo},
		{"verbose", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.valid {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, got, tt.valid)
		}
		if got := tt.level.SlogLevel(); got != tt.slog {
			t.Errorf("LogLevel(%q).SlogLevel() = %v, want %v", tt.level, got, tt.slog)
		}
	}
}

func TestAudioBackend_IsValid(t *testing.T) {
	t.Parallel()
	for _, b := range []config.AudioBackend{config.BackendPortAudio, config.BackendMock} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if config.AudioBackend("alsa").IsValid() {
		t.Error(`"alsa" should be invalid`)
	}
}
