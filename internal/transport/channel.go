// Package transport provides the unreliable datagram channel that carries
// PCM between two pttlink endpoints.
//
// A [Channel] is a single UDP socket bound on all interfaces. It sends to one
// target address and receives from anyone: inbound datagrams are not filtered
// by source. There is no handshake, acknowledgment, retry or sequencing.
//
// Send and Receive may be called concurrently from different goroutines.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// Sentinel errors for channel operations.
var (
	// ErrBind indicates the local port could not be bound (out of range or in
	// use). Bind is never retried.
	ErrBind = errors.New("transport: bind failed")

	// ErrSend indicates a datagram could not be handed to the network stack.
	ErrSend = errors.New("transport: send failed")

	// ErrNoTarget is returned by Send before a target has been set.
	ErrNoTarget = errors.New("transport: no target set")

	// ErrInvalidTarget indicates a target host or port that cannot be used.
	ErrInvalidTarget = errors.New("transport: invalid target")
)

// DefaultHost is used when a target is given without a host.
const DefaultHost = "127.0.0.1"

// Channel is a bound UDP socket with an optional send target.
type Channel struct {
	conn   *net.UDPConn
	port   int
	target atomic.Pointer[net.UDPAddr]

	closeOnce sync.Once
	closeErr  error
}

// Bind opens a UDP socket on all local interfaces at port, which must be in
// 1-65535.
func Bind(port int) (*Channel, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range 1-65535", ErrBind, port)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %w", ErrBind, port, err)
	}
	return &Channel{
		conn: conn,
		port: conn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

// Port returns the bound local port.
func (c *Channel) Port() int { return c.port }

// LocalAddr returns the socket's local address.
func (c *Channel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SetTarget records the destination for subsequent sends. Passing nil clears
// the target.
func (c *Channel) SetTarget(addr *net.UDPAddr) {
	c.target.Store(addr)
}

// Target returns the current destination, or nil.
func (c *Channel) Target() *net.UDPAddr {
	return c.target.Load()
}

// Send writes p as one datagram to the target. It does not wait for, and
// cannot learn about, delivery.
func (c *Channel) Send(p []byte) error {
	addr := c.target.Load()
	if addr == nil {
		return ErrNoTarget
	}
	if _, err := c.conn.WriteToUDP(p, addr); err != nil {
		return fmt.Errorf("%w: %d bytes to %s: %w", ErrSend, len(p), addr, err)
	}
	return nil
}

// Receive blocks until one datagram arrives and copies it into buf. Payloads
// larger than buf are truncated. After Close it returns an error matching
// net.ErrClosed.
func (c *Channel) Receive(buf []byte) (int, net.Addr, error) {
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}

// Close releases the socket. Blocked Receive calls return. It is safe to call
// Close more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// ResolveTarget resolves host:port into a UDP address. An empty host means
// [DefaultHost].
func ResolveTarget(host string, port int) (*net.UDPAddr, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidTarget, port)
	}
	if host == "" {
		host = DefaultHost
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return addr, nil
}

// ParseTarget parses "host:port" or a bare "port" and resolves it with
// [ResolveTarget].
func ParseTarget(s string) (*net.UDPAddr, error) {
	host, portStr := "", s
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, portStr = h, p
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not host:port or a port number", ErrInvalidTarget, s)
	}
	return ResolveTarget(host, port)
}
