// Package status carries human-readable status events from the link core to
// whatever control surface is attached (console, websocket, logs).
//
// A [Reporter] never fails and never blocks its caller: subscribers receive
// events through buffered channels and events are dropped for subscribers
// that fall behind. Loops can therefore report from their error paths without
// risking a second fault.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a status event.
type Kind string

const (
	KindPortBound         Kind = "port_bound"
	KindBindFailed        Kind = "bind_failed"
	KindTargetSet         Kind = "target_set"
	KindTargetFailed      Kind = "target_failed"
	KindTalkStarted       Kind = "talk_started"
	KindTalkStopped       Kind = "talk_stopped"
	KindTalkRejected      Kind = "talk_rejected"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindCaptureFailed     Kind = "capture_failed"
	KindSendFailed        Kind = "send_failed"
	KindReceiveFailed     Kind = "receive_failed"
	KindPlaybackFailed    Kind = "playback_failed"
	KindInfo              Kind = "info"
)

// IsError reports whether events of this kind describe a failure.
func (k Kind) IsError() bool {
	switch k {
	case KindBindFailed, KindTargetFailed, KindTalkRejected, KindDeviceUnavailable,
		KindCaptureFailed, KindSendFailed, KindReceiveFailed, KindPlaybackFailed:
		return true
	}
	return false
}

// Event is a single status update.
type Event struct {
	Time    time.Time
	Kind    Kind
	Message string
	Err     error
}

// Text returns the line shown to the operator.
func (e Event) Text() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return e.Time.Format("15:04:05.000") + " " + e.Text()
}

// Reporter fans events out to slog and to subscribers. The zero value is not
// usable; call [NewReporter].
type Reporter struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	last    Event
	dropped atomic.Int64
}

// NewReporter returns a Reporter that also logs every event to logger. A nil
// logger means slog.Default().
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Report publishes an event.
func (r *Reporter) Report(kind Kind, msg string, err error) {
	r.publish(Event{Time: time.Now(), Kind: kind, Message: msg, Err: err})
}

// Reportf publishes an event without an error, formatting the message.
func (r *Reporter) Reportf(kind Kind, format string, args ...any) {
	r.publish(Event{Time: time.Now(), Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (r *Reporter) publish(ev Event) {
	r.mu.Lock()
	r.last = ev
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.dropped.Add(1)
		}
	}
	r.mu.Unlock()

	r.log(ev)
}

func (r *Reporter) log(ev Event) {
	defer func() {
		// A misbehaving log handler must not take a loop down with it.
		if p := recover(); p != nil {
			r.dropped.Add(1)
		}
	}()
	if ev.Kind.IsError() {
		r.logger.Warn(ev.Message, "kind", string(ev.Kind), "err", ev.Err)
		return
	}
	r.logger.Info(ev.Message, "kind", string(ev.Kind))
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the event channel plus a cancel function. The channel is closed by
// cancel; calling cancel more than once is safe.
func (r *Reporter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Last returns the most recent event, or the zero Event if none was reported.
func (r *Reporter) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Dropped returns how many deliveries were skipped, either because a
// subscriber's buffer was full or because logging panicked.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}
