package health

import (
	"context"
	"errors"

	"github.com/MrWong99/pttlink/internal/link"
)

// SessionSource exposes the session snapshot checked by [LinkCheckers].
// [link.Controller] implements it.
type SessionSource interface {
	Session() link.Session
}

// LinkCheckers returns the readiness checks for a link session: a local port
// must be bound and the receive loop must be running.
func LinkCheckers(src SessionSource) []Checker {
	return []Checker{
		{Name: "bound", Check: func(context.Context) error {
			if !src.Session().Bound {
				return errors.New("no local port bound")
			}
			return nil
		}},
		{Name: "receive", Check: func(context.Context) error {
			if !src.Session().Receiving {
				return errors.New("receive loop not running")
			}
			return nil
		}},
	}
}
