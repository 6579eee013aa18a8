package link

import "errors"

var (
	// ErrTalkUnavailable is returned by EngageTalk before both a local port
	// and a target have been configured.
	ErrTalkUnavailable = errors.New("link: talk unavailable")

	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("link: controller closed")

	// errNoChannel is returned by the controller's sender when no socket is
	// bound, e.g. while the session is shutting down.
	errNoChannel = errors.New("link: no channel bound")
)
