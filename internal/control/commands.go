package control

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/MrWong99/pttlink/internal/link"
)

// Link is the subset of [link.Controller] driven by operator commands.
type Link interface {
	ConfigureLocalPort(ctx context.Context, port int) error
	ConfigureTarget(host string, port int) error
	EngageTalk(ctx context.Context) error
	ReleaseTalk()
	ToggleTalk(ctx context.Context) error
	Session() link.Session
}

var _ Link = (*link.Controller)(nil)

// NewLinkRouter returns a router with the pttlink command set bound to ctl.
// A blank line toggles talk, so Enter works as a push-to-talk key.
func NewLinkRouter(ctl Link) *Router {
	r := NewRouter()

	r.Register(Command{
		Name:  "port",
		Usage: "<n>",
		Help:  "listen for audio on UDP port n",
		Handler: func(ctx context.Context, args []string) (string, error) {
			if len(args) != 1 {
				return "", usageError("port", "<n>")
			}
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return "", usageError("port", "<n>")
			}
			return "", reported(ctl.ConfigureLocalPort(ctx, port))
		},
	})

	r.Register(Command{
		Name:    "target",
		Aliases: []string{"connect"},
		Usage:   "[host:]<port>",
		Help:    "send audio to host:port (host defaults to 127.0.0.1)",
		Handler: func(_ context.Context, args []string) (string, error) {
			if len(args) != 1 {
				return "", usageError("target", "[host:]<port>")
			}
			host, port, err := SplitTarget(args[0])
			if err != nil {
				return "", usageError("target", "[host:]<port>")
			}
			return "", reported(ctl.ConfigureTarget(host, port))
		},
	})

	r.Register(Command{
		Name:    "talk",
		Aliases: []string{"t", "down"},
		Help:    "start transmitting",
		Handler: func(ctx context.Context, _ []string) (string, error) {
			return "", reported(ctl.EngageTalk(ctx))
		},
	})

	r.Register(Command{
		Name:    "release",
		Aliases: []string{"r", "up"},
		Help:    "stop transmitting",
		Handler: func(context.Context, []string) (string, error) {
			ctl.ReleaseTalk()
			return "", nil
		},
	})

	toggle := func(ctx context.Context, _ []string) (string, error) {
		return "", reported(ctl.ToggleTalk(ctx))
	}
	r.Register(Command{
		Name:    "toggle",
		Aliases: []string{"ptt"},
		Help:    "start or stop transmitting",
		Handler: toggle,
	})
	r.OnEmptyLine(toggle)

	r.Register(Command{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "show the session state",
		Handler: func(context.Context, []string) (string, error) {
			return FormatSession(ctl.Session()), nil
		},
	})

	r.Register(Command{
		Name:    "help",
		Aliases: []string{"?", "h"},
		Help:    "list commands",
		Handler: func(context.Context, []string) (string, error) {
			return r.Help() + "\n  (empty line)            toggle talk", nil
		},
	})

	r.Register(Command{
		Name:    "quit",
		Aliases: []string{"exit", "q"},
		Help:    "end the session",
		Handler: func(context.Context, []string) (string, error) {
			return "", ErrQuit
		},
	})

	return r
}

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

// SplitTarget parses "host:port" or a bare "port". The host is empty for a
// bare port.
func SplitTarget(s string) (host string, port int, err error) {
	portStr := s
	if h, p, serr := net.SplitHostPort(s); serr == nil {
		host, portStr = h, p
	} else if strings.Contains(s, ":") {
		return "", 0, fmt.Errorf("invalid target %q: %w", s, serr)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target port %q", portStr)
	}
	return host, port, nil
}

// FormatSession renders a session snapshot for operators.
func FormatSession(s link.Session) string {
	var b strings.Builder
	if s.Bound {
		fmt.Fprintf(&b, "port %d", s.LocalPort)
	} else {
		b.WriteString("port not set")
	}
	if s.Target != "" {
		fmt.Fprintf(&b, ", target %s", s.Target)
	} else {
		b.WriteString(", no target")
	}
	b.WriteString(", " + s.State.String())
	if s.Bound && !s.Receiving {
		b.WriteString(", receive stopped")
	}
	return b.String()
}
