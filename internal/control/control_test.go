package control_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pttlink/internal/control"
	"github.com/MrWong99/pttlink/internal/link"
	"github.com/MrWong99/pttlink/internal/status"
)

// fakeLink records calls and mirrors the controller's status reporting.
type fakeLink struct {
	mu       sync.Mutex
	reporter *status.Reporter
	calls    []string
	session  link.Session
	bindErr  error
}

func (f *fakeLink) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeLink) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLink) ConfigureLocalPort(_ context.Context, port int) error {
	f.record(fmt.Sprintf("port %d", port))
	if f.bindErr != nil {
		f.reporter.Report(status.KindBindFailed, "cannot listen", f.bindErr)
		return f.bindErr
	}
	f.mu.Lock()
	f.session.Bound, f.session.LocalPort, f.session.Receiving = true, port, true
	f.mu.Unlock()
	f.reporter.Reportf(status.KindPortBound, "port set: %d", port)
	return nil
}

func (f *fakeLink) ConfigureTarget(host string, port int) error {
	f.record(fmt.Sprintf("target %s %d", host, port))
	return nil
}

func (f *fakeLink) EngageTalk(context.Context) error {
	f.record("engage")
	return nil
}

func (f *fakeLink) ReleaseTalk() { f.record("release") }

func (f *fakeLink) ToggleTalk(context.Context) error {
	f.record("toggle")
	return nil
}

func (f *fakeLink) Session() link.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func newFakeLink() *fakeLink {
	return &fakeLink{reporter: status.NewReporter(slogDiscard())}
}

func TestLinkRouter_Commands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want string
	}{
		{"port 6000", "port 6000"},
		{"PORT 6001", "port 6001"},
		{"target 7000", "target  7000"},
		{"connect 10.0.0.2:7000", "target 10.0.0.2 7000"},
		{"talk", "engage"},
		{"t", "engage"},
		{"down", "engage"},
		{"release", "release"},
		{"r", "release"},
		{"up", "release"},
		{"toggle", "toggle"},
		{"ptt", "toggle"},
		{"", "toggle"},
		{"   ", "toggle"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			fl := newFakeLink()
			r := control.NewLinkRouter(fl)
			if _, err := r.Dispatch(context.Background(), tt.line); err != nil {
				t.Fatalf("Dispatch(%q): %v", tt.line, err)
			}
			calls := fl.Calls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %q, want [%q]", calls, tt.want)
			}
		})
	}
}

func TestLinkRouter_Errors(t *testing.T) {
	t.Parallel()
	r := control.NewLinkRouter(newFakeLink())
	ctx := context.Background()

	for _, line := range []string{"port", "port abc", "port 1 2", "target", "target host:", "target a:b:c"} {
		if _, err := r.Dispatch(ctx, line); !errors.Is(err, control.ErrUsage) {
			t.Errorf("Dispatch(%q) = %v, want ErrUsage", line, err)
		}
	}
	if _, err := r.Dispatch(ctx, "fly"); !errors.Is(err, control.ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}
	if _, err := r.Dispatch(ctx, "quit"); !errors.Is(err, control.ErrQuit) {
		t.Errorf("quit error = %v", err)
	}
}

func TestLinkRouter_ReportedErrors(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	fl.bindErr = errors.New("address already in use")
	r := control.NewLinkRouter(fl)

	_, err := r.Dispatch(context.Background(), "port 6000")
	if !errors.Is(err, fl.bindErr) {
		t.Fatalf("err = %v, want the bind error", err)
	}
	if !control.Reported(err) {
		t.Error("link errors should be marked as reported")
	}
	if control.Reported(control.ErrUsage) {
		t.Error("usage errors are not reported by the link")
	}
}

func TestLinkRouter_StatusAndHelp(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	fl.session = link.Session{Bound: true, LocalPort: 6000, Target: "127.0.0.1:7000", State: link.StateTransmitting, Receiving: true}
	r := control.NewLinkRouter(fl)

	reply, err := r.Dispatch(context.Background(), "status")
	if err != nil {
		t.Fatal(err)
	}
	if want := "port 6000, target 127.0.0.1:7000, transmitting"; reply != want {
		t.Errorf("status = %q, want %q", reply, want)
	}

	help, err := r.Dispatch(context.Background(), "help")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"port <n>", "target [host:]<port>", "(t, down)", "quit", "toggle talk"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestFormatSession(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    link.Session
		want string
	}{
		{link.Session{}, "port not set, no target, idle"},
		{link.Session{Bound: true, LocalPort: 5000}, "port 5000, no target, idle, receive stopped"},
	}
	for _, tt := range tests {
		if got := control.FormatSession(tt.s); got != tt.want {
			t.Errorf("FormatSession(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestSplitTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		host    string
		port    int
		wantErr bool
	}{
		{"7000", "", 7000, false},
		{"peer:7000", "peer", 7000, false},
		{"[::1]:7000", "::1", 7000, false},
		{"peer:", "", 0, true},
		{"seven", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := control.SplitTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitTarget(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("SplitTarget(%q) = %q, %d; want %q, %d", tt.in, host, port, tt.host, tt.port)
		}
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and polling readers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output never contained %q:\n%s", want, out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsole_Session(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	console := control.NewConsole(inR, out, control.NewLinkRouter(fl), fl.reporter)

	done := make(chan error, 1)
	go func() { done <- console.Run(context.Background()) }()

	waitForOutput(t, out, "waiting for settings")
	fmt.Fprintln(inW, "port 6000")
	waitForOutput(t, out, "port set: 6000")
	fmt.Fprintln(inW, "status")
	waitForOutput(t, out, "port 6000, no target, idle")
	fmt.Fprintln(inW, "jump")
	waitForOutput(t, out, `error: unknown command "jump"`)
	fmt.Fprintln(inW, "quit")

	select {
	case err := <-done:
		if !errors.Is(err, control.ErrQuit) {
			t.Fatalf("Run = %v, want ErrQuit", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("console did not quit")
	}
}

func TestConsole_ReportedErrorsPrintedOnce(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	fl.bindErr = errors.New("address already in use")
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	console := control.NewConsole(inR, out, control.NewLinkRouter(fl), fl.reporter)

	done := make(chan error, 1)
	go func() { done <- console.Run(context.Background()) }()

	fmt.Fprintln(inW, "port 6000")
	waitForOutput(t, out, "cannot listen: address already in use")
	_ = inW.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run after EOF = %v, want nil", err)
	}
	if n := strings.Count(out.String(), "address already in use"); n != 1 {
		t.Errorf("error printed %d times, want 1:\n%s", n, out.String())
	}
}

func TestConsole_ContextCancel(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	inR, _ := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	console := control.NewConsole(inR, io.Discard, control.NewLinkRouter(fl), fl.reporter)

	done := make(chan error, 1)
	go func() { done <- console.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
}
