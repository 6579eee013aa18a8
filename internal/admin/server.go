// Package admin serves the optional HTTP surface of a link session: health
// endpoints, Prometheus metrics, a JSON session snapshot and a websocket that
// carries status lines out and console commands in.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pttlink/internal/control"
	"github.com/MrWong99/pttlink/internal/health"
	"github.com/MrWong99/pttlink/internal/link"
	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/status"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	wsWriteTimeout         = 5 * time.Second
	wsEventBuffer          = 64
)

// Config holds the dependencies of a [Server].
type Config struct {
	// Addr is the TCP listen address used by Run.
	Addr string

	// Session returns the current session snapshot for /status.
	Session func() link.Session

	// Router dispatches commands received over /ws.
	Router *control.Router

	// Reporter supplies the status events streamed over /ws.
	Reporter *status.Reporter

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics serves /metrics. Optional.
	Metrics http.Handler

	// Observe records request metrics. Defaults to observe.DefaultMetrics.
	Observe *observe.Metrics

	Logger          *slog.Logger
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds the admin mux. Session, Router and Reporter are required.
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil || cfg.Router == nil || cfg.Reporter == nil {
		return nil, errors.New("admin: Session, Router and Reporter are required")
	}
	if cfg.Observe == nil {
		cfg.Observe = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{cfg: cfg}
	mux := http.NewServeMux()
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)
	s.handler = observe.Middleware(cfg.Observe, cfg.Logger)(mux)
	return s, nil
}

// Handler returns the instrumented admin handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Websocket connections end when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.cfg.Logger.Info("admin server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// sessionView is the JSON form of a link.Session.
type sessionView struct {
	ID         string `json:"id"`
	Bound      bool   `json:"bound"`
	LocalPort  int    `json:"local_port,omitempty"`
	Target     string `json:"target,omitempty"`
	State      string `json:"state"`
	Talking    bool   `json:"talking"`
	Receiving  bool   `json:"receiving"`
	Activation string `json:"activation,omitempty"`
	LastEvent  string `json:"last_event,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sess := s.cfg.Session()
	view := sessionView{
		ID:         sess.ID,
		Bound:      sess.Bound,
		LocalPort:  sess.LocalPort,
		Target:     sess.Target,
		State:      sess.State.String(),
		Talking:    sess.Talking,
		Receiving:  sess.Receiving,
		Activation: sess.Activation,
		LastEvent:  s.cfg.Reporter.Last().Text(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.cfg.Logger.Warn("admin: encode status", "err", err)
	}
}

// handleWS streams every status event as a text message and dispatches each
// received text message as a console command. Replies and unreported errors
// go back to the same connection only. "quit" closes the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("admin: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx, s.cfg.Logger).With("remote", r.RemoteAddr)
	log.Debug("websocket connected")

	events, unsubscribe := s.cfg.Reporter.Subscribe(wsEventBuffer)
	defer unsubscribe()

	write := func(text string) error {
		wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer wcancel()
		return conn.Write(wctx, websocket.MessageText, []byte(text))
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := write(ev.Text()); err != nil {
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code != websocket.StatusNormalClosure && code != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		reply, err := s.cfg.Router.Dispatch(ctx, string(data))
		switch {
		case errors.Is(err, control.ErrQuit):
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case err != nil && !control.Reported(err):
			err = write("error: " + err.Error())
		case reply != "":
			err = write(reply)
		default:
			err = nil
		}
		if err != nil {
			log.Debug("websocket write failed", "err", err)
			return
		}
	}
}
