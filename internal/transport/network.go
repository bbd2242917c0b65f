package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// DefaultDialTimeout is the default timeout of a single connect attempt.
const DefaultDialTimeout = 2 * time.Second

// DefaultRetryInterval is the default pause between connect attempts.
const DefaultRetryInterval = 500 * time.Millisecond

// DefaultBacklog is the default listen backlog.
const DefaultBacklog = 16

// ErrConnectFailed is returned by Dial when every connect attempt failed.
// It describes an unreachable peer, not a local socket problem.
var ErrConnectFailed = errors.New("transport: connect failed")

// Network opens listening and connected TCP endpoints on explicit local addresses.
type Network interface {
	// Listen binds local and starts listening with the given backlog.
	Listen(ctx context.Context, local Address, backlog int) (net.Listener, error)

	// Dial connects from local to remote. It makes 1+retries attempts before
	// returning an error wrapping ErrConnectFailed. Bind failures are returned
	// immediately and do not wrap ErrConnectFailed.
	Dial(ctx context.Context, local, remote Address, retries int) (net.Conn, error)
}

// Options configures a TCPNetwork.
type Options struct {
	// Reuse sets SO_REUSEADDR and SO_REUSEPORT on every socket so the same
	// local port can be rebound in quick succession and shared between a
	// listener and outbound connections.
	Reuse bool

	// DialTimeout bounds a single connect attempt.
	// Default: 2s
	DialTimeout time.Duration

	// RetryInterval is the pause between connect attempts.
	// Default: 500ms
	RetryInterval time.Duration
}

// ApplyDefaults sets default values for zero-valued fields.
func (o *Options) ApplyDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = DefaultRetryInterval
	}
}

// TCPNetwork is the operating-system backed Network.
type TCPNetwork struct {
	opts Options
}

// NewNetwork returns a TCPNetwork. Option defaults are applied automatically.
func NewNetwork(opts Options) *TCPNetwork {
	opts.ApplyDefaults()
	return &TCPNetwork{opts: opts}
}

// NewReuseNetwork returns a TCPNetwork with address reuse enabled.
func NewReuseNetwork(dialTimeout, retryInterval time.Duration) *TCPNetwork {
	return NewNetwork(Options{Reuse: true, DialTimeout: dialTimeout, RetryInterval: retryInterval})
}

func (n *TCPNetwork) control() func(network, address string, c syscall.RawConn) error {
	if !n.opts.Reuse {
		return nil
	}
	return reuseControl
}

// Listen implements Network.
func (n *TCPNetwork) Listen(ctx context.Context, local Address, backlog int) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", local, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ln, err := listenTCP(ctx, local, backlog, n.opts.Reuse)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", local, err)
	}
	return ln, nil
}

// Dial implements Network.
func (n *TCPNetwork) Dial(ctx context.Context, local, remote Address, retries int) (net.Conn, error) {
	d := net.Dialer{
		LocalAddr: local.TCPAddr(),
		Timeout:   n.opts.DialTimeout,
		Control:   n.control(),
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(n.opts.RetryInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("transport: dial %s from %s: %w", remote, local, ctx.Err())
			case <-t.C:
			}
		}

		conn, err := d.DialContext(ctx, "tcp4", remote.String())
		if err == nil {
			return conn, nil
		}
		if isBindError(err) {
			return nil, fmt.Errorf("transport: bind %s: %w", local, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: dial %s from %s: %w", remote, local, ctx.Err())
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s from %s after %d attempts: %v", ErrConnectFailed, remote, local, retries+1, lastErr)
}

// isBindError reports whether err stems from binding the local address rather
// than from reaching the peer.
func isBindError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EADDRNOTAVAIL)
}

// Accept waits for the next connection on ln. If ctx is done first, ln is
// closed and the context error is returned.
func Accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}
