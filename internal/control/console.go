package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/pttlink/internal/status"
)

// Console reads command lines from an input stream and writes replies and
// status events to an output stream.
type Console struct {
	in     io.Reader
	out    io.Writer
	router *Router

	events      <-chan status.Event
	unsubscribe func()

	mu sync.Mutex // serialises writes to out
}

// NewConsole returns a console that dispatches lines to router and prints
// every event published on reporter from now on. Events reported before Run
// starts are buffered.
func NewConsole(in io.Reader, out io.Writer, router *Router, reporter *status.Reporter) *Console {
	events, unsubscribe := reporter.Subscribe(64)
	return &Console{in: in, out: out, router: router, events: events, unsubscribe: unsubscribe}
}

// Run processes input until ctx is cancelled, the input ends, or the quit
// command is entered. It returns [ErrQuit] for quit and nil otherwise.
//
// A read from the input cannot be interrupted; on cancellation Run returns
// while the reader goroutine stays blocked until the next line or EOF. Run
// may be called once.
func (c *Console) Run(ctx context.Context) error {
	defer c.unsubscribe()
	events := c.events

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.println("waiting for settings, type \"help\" for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.println(ev.Text())
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("control: read console: %w", err)
			}
			return nil
		case line := <-lines:
			if err := c.execute(ctx, line); errors.Is(err, ErrQuit) {
				return ErrQuit
			}
		}
	}
}

// execute runs one line and prints its reply or error.
func (c *Console) execute(ctx context.Context, line string) error {
	reply, err := c.router.Dispatch(ctx, line)
	switch {
	case errors.Is(err, ErrQuit):
		return err
	case err != nil && !Reported(err):
		c.println("error: " + err.Error())
	case reply != "":
		c.println(reply)
	}
	return nil
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}
