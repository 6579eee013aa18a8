package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pttlink/internal/observe"
	"github.com/MrWong99/pttlink/internal/resilience"
	"github.com/MrWong99/pttlink/internal/status"
	"github.com/MrWong99/pttlink/internal/transport"
	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/packet"
)

// State is the transmit state of a session.
type State int

const (
	// StateIdle means no transmit activation is running.
	StateIdle State = iota

	// StateTransmitting means a transmit activation is running. It stays set
	// while the last frame is flushed after a release.
	StateTransmitting
)

// String returns "idle" or "transmitting".
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

// Config configures a [Controller].
type Config struct {
	// Device provides capture and playback streams. Required.
	Device audio.Device

	// Format of the audio on the wire. Default: audio.LinkFormat.
	Format audio.Format

	// ChunkSamples per captured frame. Default: audio.DefaultChunkSamples.
	ChunkSamples int

	// MaxPacketBytes bounds each datagram. Must be even and at most
	// packet.MaxDatagramBytes. Default: packet.DefaultMaxBytes.
	MaxPacketBytes int

	// ReceiveBreaker tunes the receive-error circuit breaker. The Name and
	// OnStateChange fields are set by the controller.
	ReceiveBreaker resilience.CircuitBreakerConfig

	Reporter *status.Reporter
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// Session is a point-in-time view of a controller.
type Session struct {
	ID         string
	LocalPort  int
	Bound      bool
	Target     string
	State      State
	Talking    bool
	Receiving  bool
	Activation string
}

// Controller owns the session: the socket, the playback stream, the talk gate
// and the goroutines running the transmit and receive loops.
//
// Control methods never block on audio capture or on the network beyond
// opening the socket and the speaker. They report every outcome to the
// status Reporter and also return errors for programmatic callers.
//
// A Controller is safe for concurrent use.
type Controller struct {
	cfg Config
	id  string
	log *slog.Logger

	// ctx scopes background loops; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	gate      atomic.Bool
	receiving atomic.Bool
	// sendCh is the socket the transmit loop writes to. It is swapped on
	// rebind so a running activation follows the new port.
	sendCh atomic.Pointer[transport.Channel]

	mu             sync.Mutex
	closed         bool
	ch             *transport.Channel
	target         *net.UDPAddr
	playback       audio.Playback
	playbackFailed atomic.Bool
	rxCancel       context.CancelFunc
	rxDone         chan struct{}
	txRunning      bool
	activation     string
}

// New validates cfg and returns an idle, unbound controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, errors.New("link: audio device is required")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.LinkFormat
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = audio.DefaultChunkSamples
	}
	if cfg.MaxPacketBytes == 0 {
		cfg.MaxPacketBytes = packet.DefaultMaxBytes
	}
	if err := ValidateMaxPacketBytes(cfg.MaxPacketBytes); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = status.NewReporter(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithSession(context.Background(), id))
	return &Controller{
		cfg:    cfg,
		id:     id,
		log:    cfg.Logger.With("session", id),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ValidateMaxPacketBytes checks that n carries whole 16-bit samples and fits
// in one UDP datagram.
func ValidateMaxPacketBytes(n int) error {
	if n < audio.BytesPerSample || n > packet.MaxDatagramBytes {
		return fmt.Errorf("link: max packet bytes %d out of range %d-%d",
			n, audio.BytesPerSample, packet.MaxDatagramBytes)
	}
	if n%audio.BytesPerSample != 0 {
		return fmt.Errorf("link: max packet bytes %d is not a whole number of samples", n)
	}
	return nil
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// Reporter returns the status sink used by the controller.
func (c *Controller) Reporter() *status.Reporter { return c.cfg.Reporter }

// ConfigureLocalPort binds the listening socket to port, opens the speaker
// and starts the receive loop. port must be in 1-65535; anything else fails
// with transport.ErrBind.
//
// On failure nothing changes: an existing binding stays in place, and a
// first-time bind whose speaker cannot be opened leaves the session unbound.
// On success a previous socket and its receive loop are replaced; the target
// and the speaker carry over. Setting the current port again is a no-op
// while receiving; after the speaker failed it reopens the speaker and
// resumes receiving on the same socket.
func (c *Controller) ConfigureLocalPort(ctx context.Context, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if c.ch != nil && c.ch.Port() == port {
		if c.receiving.Load() && !c.playbackFailed.Load() {
			c.cfg.Reporter.Reportf(status.KindPortBound, "already listening on port %d", port)
			return nil
		}
		return c.resumeReceiveLocked(ctx)
	}

	ch, err := transport.Bind(port)
	if err != nil {
		c.cfg.Reporter.Report(status.KindBindFailed, fmt.Sprintf("cannot listen on port %d", port), err)
		return err
	}

	pb := c.playback
	if pb != nil && c.playbackFailed.Load() {
		// The receive loop already stopped on this speaker; retry with a new
		// stream.
		_ = pb.Close()
		pb, c.playback = nil, nil
	}
	if pb == nil {
		pb, err = c.cfg.Device.OpenPlayback(ctx, c.cfg.Format)
		if err != nil {
			_ = ch.Close()
			c.cfg.Reporter.Report(status.KindDeviceUnavailable,
				fmt.Sprintf("cannot open speaker, port %d not bound", port), err)
			return fmt.Errorf("link: open playback: %w", err)
		}
		c.playbackFailed.Store(false)
	}

	if c.target != nil {
		ch.SetTarget(c.target)
	}
	old := c.ch
	c.sendCh.Store(ch)
	c.stopReceiveLocked()
	if old != nil {
		_ = old.Close()
	}
	c.ch = ch
	c.playback = pb
	c.startReceiveLocked()

	c.log.Info("link: bound", "port", ch.Port(), "previous", portOf(old))
	c.cfg.Reporter.Reportf(status.KindPortBound, "port set: %d", ch.Port())
	return nil
}

// resumeReceiveLocked restarts receiving on the current socket after the
// loop ended, replacing a failed speaker. c.mu must be held.
func (c *Controller) resumeReceiveLocked(ctx context.Context) error {
	port := c.ch.Port()
	if c.rxCancel != nil {
		// The loop has already returned; this only collects it.
		c.rxCancel()
		<-c.rxDone
		c.rxCancel, c.rxDone = nil, nil
	}

	if c.playback != nil && c.playbackFailed.Load() {
		_ = c.playback.Close()
		c.playback = nil
	}
	if c.playback == nil {
		pb, err := c.cfg.Device.OpenPlayback(ctx, c.cfg.Format)
		if err != nil {
			c.cfg.Reporter.Report(status.KindDeviceUnavailable,
				fmt.Sprintf("cannot open speaker, not receiving on port %d", port), err)
			return fmt.Errorf("link: open playback: %w", err)
		}
		c.playback = pb
		c.playbackFailed.Store(false)
	}
	c.startReceiveLocked()

	c.log.Info("link: receive resumed", "port", port)
	c.cfg.Reporter.Reportf(status.KindPortBound, "port set: %d", port)
	return nil
}

func portOf(ch *transport.Channel) int {
	if ch == nil {
		return 0
	}
	return ch.Port()
}

// startReceiveLocked launches the receive loop for c.ch. c.mu must be held.
func (c *Controller) startReceiveLocked() {
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.rxCancel = cancel
	c.rxDone = done

	breakerCfg := c.cfg.ReceiveBreaker
	breakerCfg.Name = "receive"
	breakerCfg.Logger = c.log
	reporter := c.cfg.Reporter
	breakerCfg.OnStateChange = func(_, to resilience.State) {
		if to == resilience.StateOpen {
			reporter.Reportf(status.KindReceiveFailed, "socket keeps failing, pausing receive")
		}
	}

	loop := NewReceiveLoop(ReceiveConfig{
		Receiver: c.ch,
		Playback: c.playback,
		Breaker:  resilience.NewCircuitBreaker(breakerCfg),
		Reporter: c.cfg.Reporter,
		Metrics:  c.cfg.Metrics,
		Logger:   c.log,
	})

	c.receiving.Store(true)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		err := loop.Run(ctx)
		if errors.Is(err, audio.ErrPlayback) {
			c.playbackFailed.Store(true)
		}
		c.receiving.Store(false)
	}()
}

// stopReceiveLocked stops the current receive loop, closing its socket, and
// waits for it to exit. The loop never takes c.mu, so waiting while holding
// it is safe. c.mu must be held.
func (c *Controller) stopReceiveLocked() {
	if c.rxCancel == nil {
		return
	}
	c.rxCancel()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	<-c.rxDone
	c.rxCancel, c.rxDone = nil, nil
}

// ConfigureTarget resolves host:port and makes it the destination for
// transmitted audio. An empty host means transport.DefaultHost. The target
// may be set before or after binding.
func (c *Controller) ConfigureTarget(host string, port int) error {
	addr, err := transport.ResolveTarget(host, port)
	if err != nil {
		c.cfg.Reporter.Report(status.KindTargetFailed, "invalid target", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.target = addr
	if c.ch != nil {
		c.ch.SetTarget(addr)
	}
	c.cfg.Reporter.Reportf(status.KindTargetSet, "connected to target %s", addr)
	return nil
}

// EngageTalk opens the talk gate and starts a transmit activation in the
// background. It requires a bound port and a target. Engaging while already
// transmitting does nothing; engaging while the previous activation is still
// flushing its last frame keeps that activation running.
func (c *Controller) EngageTalk(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ch == nil || c.target == nil {
		var err error
		switch {
		case c.ch == nil && c.target == nil:
			err = fmt.Errorf("%w: set a local port and a target first", ErrTalkUnavailable)
		case c.ch == nil:
			err = fmt.Errorf("%w: set a local port first", ErrTalkUnavailable)
		default:
			err = fmt.Errorf("%w: set a target first", ErrTalkUnavailable)
		}
		c.cfg.Reporter.Report(status.KindTalkRejected, "cannot talk", err)
		return err
	}

	if c.gate.Load() {
		return nil
	}
	c.gate.Store(true)
	if c.txRunning {
		c.log.Debug("link: talk re-engaged during wind-down", "activation", c.activation)
		return nil
	}

	c.txRunning = true
	c.activation = uuid.NewString()
	c.wg.Add(1)
	go c.runTransmit(trace.LinkFromContext(ctx), c.activation)

	c.cfg.Reporter.Reportf(status.KindTalkStarted, "talking to %s", c.target)
	return nil
}

// runTransmit drives transmit activations until the gate stays released.
func (c *Controller) runTransmit(caller trace.Link, activation string) {
	defer c.wg.Done()

	started := time.Now()
	for {
		loop := NewTransmitLoop(TransmitConfig{
			Device:         c.cfg.Device,
			Sender:         senderFunc(c.send),
			Gate:           &c.gate,
			Format:         c.cfg.Format,
			ChunkSamples:   c.cfg.ChunkSamples,
			MaxPacketBytes: c.cfg.MaxPacketBytes,
			ActivationID:   activation,
			Reporter:       c.cfg.Reporter,
			Metrics:        c.cfg.Metrics,
			Logger:         c.log,
		})
		ctx := c.ctx
		if caller.SpanContext.IsValid() {
			ctx = trace.ContextWithRemoteSpanContext(ctx, caller.SpanContext)
		}
		err := loop.Run(ctx)

		c.mu.Lock()
		if err == nil && c.gate.Load() && !c.closed {
			// Re-engaged between the final gate check and here.
			c.mu.Unlock()
			continue
		}
		c.gate.Store(false)
		c.txRunning = false
		c.mu.Unlock()

		if err != nil && !isDeviceError(err) {
			c.log.Warn("link: transmit ended", "activation", activation, "err", err)
		}
		c.cfg.Reporter.Reportf(status.KindTalkStopped, "talk stopped after %s",
			time.Since(started).Round(time.Millisecond))
		return
	}
}

type senderFunc func([]byte) error

func (f senderFunc) Send(p []byte) error { return f(p) }

// send writes through whichever socket is current.
func (c *Controller) send(p []byte) error {
	ch := c.sendCh.Load()
	if ch == nil {
		return fmt.Errorf("%w: %w", transport.ErrSend, errNoChannel)
	}
	return ch.Send(p)
}

// ReleaseTalk closes the talk gate. The running activation finishes the
// frame in flight and stops. Releasing while idle does nothing.
func (c *Controller) ReleaseTalk() {
	if c.gate.CompareAndSwap(true, false) {
		c.log.Debug("link: talk released")
	}
}

// ToggleTalk engages when idle and releases when talking.
func (c *Controller) ToggleTalk(ctx context.Context) error {
	if c.gate.Load() {
		c.ReleaseTalk()
		return nil
	}
	return c.EngageTalk(ctx)
}

// State reports whether a transmit activation is running.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txRunning {
		return StateTransmitting
	}
	return StateIdle
}

// Session returns a snapshot of the session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{
		ID:         c.id,
		Talking:    c.gate.Load(),
		Receiving:  c.receiving.Load(),
		Activation: c.activation,
	}
	if c.ch != nil {
		s.Bound = true
		s.LocalPort = c.ch.Port()
	}
	if c.target != nil {
		s.Target = c.target.String()
	}
	if c.txRunning {
		s.State = StateTransmitting
	}
	return s
}

// Close releases the talk gate, stops both loops and frees the socket and
// the audio devices. It waits for the loops to exit. Calling Close more than
// once is safe.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gate.Store(false)
	c.cancel()
	c.stopReceiveLocked()
	c.sendCh.Store(nil)
	ch, pb := c.ch, c.playback
	c.ch, c.playback = nil, nil
	c.mu.Unlock()

	c.wg.Wait()

	var errs []error
	if ch != nil {
		errs = append(errs, ch.Close())
	}
	if pb != nil {
		errs = append(errs, pb.Close())
	}
	c.cfg.Reporter.Reportf(status.KindInfo, "session closed")
	return errors.Join(errs...)
}
