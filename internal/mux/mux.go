// Package mux accepts client connections on the main server address, runs
// one classification session at a time and keeps finished connections open
// until the client disconnects.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

// SessionRunner runs a classification session on an accepted connection.
// *natcheck.Engine implements it.
type SessionRunner interface {
	Run(ctx context.Context, conn net.Conn) (*natcheck.SessionRecord, error)
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Multiplexer serializes sessions and watches finished connections for
// disconnect.
type Multiplexer struct {
	ln     net.Listener
	runner SessionRunner
	logger *slog.Logger

	mu      sync.Mutex
	watched map[net.Conn]struct{}
	closing bool

	wg sync.WaitGroup
}

// New creates a Multiplexer accepting on ln. Run takes ownership of ln.
func New(ln net.Listener, runner SessionRunner, logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		ln:      ln,
		runner:  runner,
		logger:  logger.With("component", "mux"),
		watched: make(map[net.Conn]struct{}),
	}
}

// Watching returns the number of client connections held open: the session
// in progress, if any, plus finished sessions awaiting disconnect.
func (m *Multiplexer) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched)
}

// Run accepts connections until ctx is cancelled or a fatal error occurs.
// Each connection is handed to the session runner before the next one is
// accepted. On return the listener and all watched connections are closed.
// It returns ctx.Err() when the context is cancelled.
func (m *Multiplexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)

	m.wg.Add(1)
	go m.acceptLoop(ctx, conns, acceptErr)
	defer func() {
		cancel()
		m.shutdown()
	}()

	m.logger.Info("accepting connections", "addr", m.ln.Addr().String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-acceptErr:
			m.logger.Error("accept failed", "error", err)
			return fmt.Errorf("mux: accept: %w", err)
		case conn := <-conns:
			if err := m.handle(ctx, conn); err != nil {
				return err
			}
		}
	}
}

// handle adds conn to the watch set, runs its session and then watches it
// for disconnect.
func (m *Multiplexer) handle(ctx context.Context, conn net.Conn) error {
	m.logger.Info("client connected", "remote_addr", conn.RemoteAddr().String())

	m.mu.Lock()
	m.watched[conn] = struct{}{}
	m.mu.Unlock()

	_, err := m.runner.Run(ctx, conn)
	if err != nil && natcheck.IsFatal(err) {
		m.logger.Error("fatal session error", "remote_addr", conn.RemoteAddr().String(), "error", err)
		m.drop(conn)
		return fmt.Errorf("mux: session: %w", err)
	}
	m.watch(conn)
	return nil
}

func (m *Multiplexer) drop(conn net.Conn) {
	m.mu.Lock()
	delete(m.watched, conn)
	m.mu.Unlock()
	conn.Close()
}

func (m *Multiplexer) acceptLoop(ctx context.Context, conns chan<- net.Conn, errc chan<- error) {
	defer m.wg.Done()

	stop := context.AfterFunc(ctx, func() { m.ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isTemporary(err) {
				backoff = nextBackoff(backoff)
				m.logger.Warn("temporary accept error", "error", err, "retry_in", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}
			errc <- err
			return
		}
		backoff = 0

		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// watch keeps a finished session's conn open until the client closes it.
func (m *Multiplexer) watch(conn net.Conn) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.drop(conn)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watchConn(conn)
}

func (m *Multiplexer) watchConn(conn net.Conn) {
	defer m.wg.Done()

	remote := conn.RemoteAddr().String()
	var buf [1]byte
	n, err := conn.Read(buf[:])

	m.mu.Lock()
	delete(m.watched, conn)
	closing := m.closing
	m.mu.Unlock()
	conn.Close()

	switch {
	case closing:
	case n > 0:
		m.logger.Warn("unexpected data on completed session, dropping connection", "remote_addr", remote)
	case errors.Is(err, io.EOF):
		m.logger.Info("client disconnected", "remote_addr", remote)
	default:
		m.logger.Info("client connection lost", "remote_addr", remote, "error", err)
	}
}

// shutdown closes the listener and every watched connection, then waits for
// all goroutines.
func (m *Multiplexer) shutdown() {
	m.ln.Close()

	m.mu.Lock()
	m.closing = true
	for conn := range m.watched {
		conn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("multiplexer stopped")
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
