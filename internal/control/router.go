// Package control turns operator text commands into link session operations.
// The same [Router] serves the stdin [Console] and the admin websocket.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnknownCommand is returned by Dispatch for an unrecognised command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUsage is returned when a command's arguments are malformed.
	ErrUsage = errors.New("usage")

	// ErrQuit is returned by the quit command. Callers end the session that
	// issued it.
	ErrQuit = errors.New("quit requested")
)

// HandlerFunc executes a command. The returned text, if any, is shown to the
// operator.
type HandlerFunc func(ctx context.Context, args []string) (string, error)

// Command describes one operator command.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	Handler HandlerFunc
}

// Router dispatches command lines to registered commands. It is safe for
// concurrent use.
type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and aliases → command
	order    []*Command

	// emptyLine, when set, handles a blank line.
	emptyLine HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{commands: make(map[string]*Command)}
}

// Register adds cmd under its name and aliases. Later registrations replace
// earlier ones with the same key.
func (r *Router) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &cmd
	r.order = slices.DeleteFunc(r.order, func(o *Command) bool { return o.Name == c.Name })
	r.order = append(r.order, c)
	for _, key := range append([]string{c.Name}, c.Aliases...) {
		r.commands[strings.ToLower(key)] = c
	}
}

// OnEmptyLine sets the handler for blank input lines.
func (r *Router) OnEmptyLine(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emptyLine = h
}

// Dispatch parses line and runs the matching command.
func (r *Router) Dispatch(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)

	r.mu.RLock()
	empty := r.emptyLine
	var cmd *Command
	if len(fields) > 0 {
		cmd = r.commands[strings.ToLower(fields[0])]
	}
	r.mu.RUnlock()

	if len(fields) == 0 {
		if empty == nil {
			return "", nil
		}
		return empty(ctx, nil)
	}
	if cmd == nil {
		return "", fmt.Errorf("%w %q, try \"help\"", ErrUnknownCommand, fields[0])
	}
	return cmd.Handler(ctx, fields[1:])
}

// Help renders the command list.
func (r *Router) Help() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, c := range r.order {
		usage := c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		fmt.Fprintf(&b, "  %-22s %s", usage, c.Help)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(c.Aliases, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func usageError(c string, usage string) error {
	return fmt.Errorf("%w: %s %s", ErrUsage, c, usage)
}

// reportedError marks an error the link controller already published as a
// status event, so surfaces do not print it twice.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Reported reports whether err was already published as a status event.
func Reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}
