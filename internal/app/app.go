// Package app wires the pttlink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds telemetry, the status
// reporter, the link controller and the operator surfaces, Run applies the
// configured link settings and serves until the context ends or the operator
// quits, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTelemetry,
// WithConsole, etc.). The audio device is always supplied by the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pttlink/internal/admin"
	"github.com/MrWong99/pttlink/internal/config"
	"github.com/MrWong99/pttlink/internal/control"
	"github.com/MrWong99/pttlink/internal/health"
	"github.com/MrWong99/pttlink/internal/link"
	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/pkg/audio"
)

// App owns all subsystem lifetimes of one link endpoint.
type App struct {
	cfg    *config.Config
	device audio.Device

	logger     *slog.Logger
	level      *slog.LevelVar
	version    string
	configPath string

	consoleIn  io.Reader
	consoleOut io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	reporter  *status.Reporter
	ctl       *link.Controller
	router    *control.Router
	console   *control.Console
	admin     *admin.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigWatch enables hot reload of the YAML file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithConsole attaches an operator console reading commands from in and
// writing replies and status lines to out.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.consoleIn, a.consoleOut = in, out }
}

// WithTelemetry injects telemetry instead of building a Prometheus-backed
// provider. The caller keeps ownership and shuts it down.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// New creates an App for cfg using device for capture and playback.
func New(ctx context.Context, cfg *config.Config, device audio.Device, opts ...Option) (*App, error) {
	if device == nil {
		return nil, errors.New("app: audio device is required")
	}
	a := &App{cfg: cfg, device: device}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	a.reporter = status.NewReporter(a.logger)

	ctl, err := link.New(link.Config{
		Device:         device,
		ChunkSamples:   cfg.Audio.ChunkSamples,
		MaxPacketBytes: cfg.Link.MaxPacketBytes,
		Reporter:       a.reporter,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
	if err != nil {
		a.runClosers(context.Background())
		return nil, fmt.Errorf("app: init link: %w", err)
	}
	a.ctl = ctl
	// The controller goes first so capture and playback are released before
	// telemetry is flushed.
	a.closers = append([]func() error{ctl.Close}, a.closers...)

	a.router = control.NewLinkRouter(ctl)
	if a.consoleIn != nil {
		out := a.consoleOut
		if out == nil {
			out = io.Discard
		}
		a.console = control.NewConsole(a.consoleIn, out, a.router, a.reporter)
	}

	if cfg.Server.ListenAddr != "" {
		if err := a.initAdmin(); err != nil {
			a.runClosers(context.Background())
			return nil, fmt.Errorf("app: init admin: %w", err)
		}
	}

	a.logger.Info("link session created",
		"session", ctl.ID(),
		"audio", device.Name(),
		"max_packet_bytes", cfg.Link.MaxPacketBytes,
		"admin", cfg.Server.ListenAddr,
	)
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		t, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: a.version,
			SetGlobal:      true,
		})
		if err != nil {
			return err
		}
		a.telemetry = t
		a.closers = append(a.closers, func() error {
			return t.Shutdown(context.Background())
		})
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

func (a *App) initAdmin() error {
	srv, err := admin.New(admin.Config{
		Addr:     a.cfg.Server.ListenAddr,
		Session:  a.ctl.Session,
		Router:   a.router,
		Reporter: a.reporter,
		Health:   health.New(health.LinkCheckers(a.ctl)...),
		Metrics:  a.telemetry.Handler(),
		Observe:  a.metrics,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.admin = srv
	return nil
}

// Controller returns the link controller.
func (a *App) Controller() *link.Controller { return a.ctl }

// Reporter returns the status reporter shared by all surfaces.
func (a *App) Reporter() *status.Reporter { return a.reporter }

// Run applies the configured port and target, then serves the console, the
// admin server and the config watcher until ctx is cancelled or the operator
// quits. A failed initial bind or target is reported and leaves the session
// waiting for settings.
func (a *App) Run(ctx context.Context) error {
	a.applyLink(ctx, a.cfg.Link)

	g, gctx := errgroup.WithContext(ctx)

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(old, new *config.Config) {
			a.ApplyConfig(gctx, old, new)
		}, config.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	if a.admin != nil {
		g.Go(func() error { return a.admin.Run(gctx) })
	}
	if a.console != nil {
		g.Go(func() error { return a.console.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	a.logger.Info("app running", "session", a.ctl.ID())
	err := g.Wait()
	if errors.Is(err, control.ErrQuit) {
		a.logger.Info("quit requested")
		return nil
	}
	return err
}

// applyLink pushes the link section to the controller. Zero ports mean
// "not configured".
func (a *App) applyLink(ctx context.Context, lc config.LinkConfig) {
	if lc.LocalPort > 0 {
		_ = a.ctl.ConfigureLocalPort(ctx, lc.LocalPort)
	}
	if lc.TargetPort > 0 {
		_ = a.ctl.ConfigureTarget(lc.TargetHost, lc.TargetPort)
	}
}

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level, the local port and the target. Other changes are logged as
// requiring a restart.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.HasChanges() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.SlogLevel())
			a.logger.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.logger.Warn("log level change ignored, logger is not reloadable", "level", d.NewLogLevel)
		}
	}
	if d.LocalPortChanged {
		if d.NewLocalPort > 0 {
			_ = a.ctl.ConfigureLocalPort(ctx, d.NewLocalPort)
		} else {
			a.logger.Warn("local_port removed from config, keeping the current binding")
		}
	}
	if d.TargetChanged {
		if d.NewTargetPort > 0 {
			_ = a.ctl.ConfigureTarget(d.NewTargetHost, d.NewTargetPort)
		} else {
			a.logger.Warn("target removed from config, keeping the current target")
		}
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "keys", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.runClosers(ctx)
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			a.logger.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}
