// Command pttlink is a peer-to-peer push-to-talk audio link over UDP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/pttlink/internal/app"
	"github.com/MrWong99/pttlink/internal/config"
	"github.com/MrWong99/pttlink/internal/control"
	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/mock"
	"github.com/MrWong99/pttlink/pkg/audio/portaudio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file (watched for changes)")
	port := flag.Int("port", 0, "local UDP port to listen on (overrides link.local_port)")
	target := flag.String("target", "", "peer to send audio to, [host:]port (overrides link.target_*)")
	backend := flag.String("backend", "", "audio backend: portaudio or mock (overrides audio.backend)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides server.log_level)")
	listen := flag.String("listen", "", "admin HTTP address, e.g. 127.0.0.1:8080 (overrides server.listen_addr)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "pttlink: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "pttlink: %v\n", err)
			}
			return 2
		}
		cfg = loaded
	}
	if err := applyFlags(cfg, *port, *target, *backend, *logLevel, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "pttlink: %v\n", err)
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	logger := newLogger(level, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("pttlink starting",
		"version", version,
		"config", *configPath,
		"audio", cfg.Audio.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Audio device ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	device, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio device", "err", err, "available", reg.Backends())
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithVersion(version),
		app.WithConsole(os.Stdin, os.Stdout),
	}
	if *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, device, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyFlags overlays non-empty command line flags on cfg and validates the
// result.
func applyFlags(cfg *config.Config, port int, target, backend, logLevel, listen string) error {
	if port != 0 {
		cfg.Link.LocalPort = port
	}
	if target != "" {
		host, p, err := control.SplitTarget(target)
		if err != nil {
			return fmt.Errorf("-target: %w", err)
		}
		cfg.Link.TargetHost, cfg.Link.TargetPort = host, p
	}
	if backend != "" {
		cfg.Audio.Backend = config.AudioBackend(backend)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	return config.Validate(cfg)
}

// ── Audio backends ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the audio device implementations that ship
// with pttlink into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterAudio(config.BackendPortAudio, func(ac config.AudioConfig) (audio.Device, error) {
		return portaudio.New(ac.Device), nil
	})

	// The mock backend paces capture in real time so two mock endpoints can
	// talk to each other without sound hardware.
	reg.RegisterAudio(config.BackendMock, func(ac config.AudioConfig) (audio.Device, error) {
		opts := []mock.Option{mock.WithRealtime()}
		if ac.Mock.ToneHz > 0 {
			opts = append(opts, mock.WithSineWave(ac.Mock.ToneHz, ac.Mock.Amplitude))
		}
		return mock.New(opts...), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         pttlink: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", string(cfg.Audio.Backend))
	printRow("Local port", portOrUnset(cfg.Link.LocalPort))
	if cfg.Link.TargetPort > 0 {
		host := cfg.Link.TargetHost
		if host == "" {
			host = "127.0.0.1"
		}
		printRow("Target", fmt.Sprintf("%s:%d", host, cfg.Link.TargetPort))
	} else {
		printRow("Target", "(not set)")
	}
	printRow("Max packet", fmt.Sprintf("%d bytes", cfg.Link.MaxPacketBytes))
	if cfg.Server.ListenAddr != "" {
		printRow("Admin addr", cfg.Server.ListenAddr)
	} else {
		printRow("Admin addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

func portOrUnset(p int) string {
	if p <= 0 {
		return "(not set)"
	}
	return fmt.Sprint(p)
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds a text logger whose level is held in lv so config reloads
// can change it.
func newLogger(lv *slog.LevelVar, level config.LogLevel) *slog.Logger {
	lv.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
