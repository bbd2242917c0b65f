package natcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/plexsphere/natcheck/internal/message"
	"github.com/plexsphere/natcheck/internal/transport"
)

// addrConn overrides the remote address of a pipe end, standing in for the
// external address a NAT would present.
type addrConn struct {
	net.Conn
	local  transport.Address
	remote transport.Address
}

func (c *addrConn) RemoteAddr() net.Addr { return c.remote.TCPAddr() }
func (c *addrConn) LocalAddr() net.Addr  { return c.local.TCPAddr() }

// fakeListener hands out connections pushed by fakeNetwork.connect.
type fakeListener struct {
	addr   transport.Address
	conns  chan net.Conn
	done   chan struct{}
	closed sync.Once
}

func (l *fakeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	l.closed.Do(func() { close(l.done) })
	return nil
}

func (l *fakeListener) Addr() net.Addr { return l.addr.TCPAddr() }

// fakeNetwork is a test double for transport.Network.
type fakeNetwork struct {
	mu sync.Mutex

	// dialResults maps a probe's local address to its outcome: nil connects,
	// anything else is returned as-is. Missing entries fail with ErrConnectFailed.
	dialResults map[transport.Address]error

	// listenErrs maps a listen address to a failure.
	listenErrs map[transport.Address]error

	listeners map[transport.Address]*fakeListener

	dials   []transport.Address
	listens []transport.Address
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		dialResults: make(map[transport.Address]error),
		listenErrs:  make(map[transport.Address]error),
		listeners:   make(map[transport.Address]*fakeListener),
	}
}

func (n *fakeNetwork) Listen(ctx context.Context, local transport.Address, backlog int) (net.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listens = append(n.listens, local)
	if err := n.listenErrs[local]; err != nil {
		return nil, err
	}
	ln := &fakeListener{addr: local, conns: make(chan net.Conn, 1), done: make(chan struct{})}
	n.listeners[local] = ln
	return ln, nil
}

func (n *fakeNetwork) Dial(ctx context.Context, local, remote transport.Address, retries int) (net.Conn, error) {
	n.mu.Lock()
	n.dials = append(n.dials, local)
	err, ok := n.dialResults[local]
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", transport.ErrConnectFailed, remote, local)
	}
	if err != nil {
		return nil, err
	}
	a, b := net.Pipe()
	b.Close()
	return &addrConn{Conn: a, local: local, remote: remote}, nil
}

// connect simulates the client reaching the server listener at to, appearing
// with external address ext.
func (n *fakeNetwork) connect(to, ext transport.Address) (net.Conn, error) {
	n.mu.Lock()
	ln, ok := n.listeners[to]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no listener on %s", to)
	}

	server, client := net.Pipe()
	select {
	case ln.conns <- &addrConn{Conn: server, local: to, remote: ext}:
		return client, nil
	case <-ln.done:
		server.Close()
		client.Close()
		return nil, net.ErrClosed
	}
}

func (n *fakeNetwork) allDials() []transport.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]transport.Address(nil), n.dials...)
}

func (n *fakeNetwork) allListens() []transport.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]transport.Address(nil), n.listens...)
}

// fakeClient plays the client role over pipes.
type fakeClient struct {
	identification *message.Message

	// externals are the external addresses presented on each reconnect.
	externals []transport.Address

	// hangUpAfterIdentify closes the first connection right after sending
	// the identification.
	hangUpAfterIdentify bool

	received []*message.Message
	targets  []transport.Address
}

func (c *fakeClient) run(n *fakeNetwork, conn net.Conn) error {
	defer conn.Close()

	if err := message.NewProxy(conn).Write(c.identification); err != nil {
		return err
	}
	if c.hangUpAfterIdentify {
		return nil
	}

	current := conn
	for {
		msg, err := message.NewProxy(current).Read()
		if err != nil {
			return err
		}
		c.received = append(c.received, msg)

		cont, err := msg.Continue()
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		ip, err := msg.String(message.FieldChangeIP)
		if err != nil {
			return err
		}
		port, err := msg.Port(message.FieldChangePort)
		if err != nil {
			return err
		}
		to := transport.Address{IP: ip, Port: port}
		c.targets = append(c.targets, to)

		if len(c.externals) == 0 {
			return errors.New("fake client ran out of external addresses")
		}
		ext := c.externals[0]
		c.externals = c.externals[1:]

		next, err := n.connect(to, ext)
		if err != nil {
			return err
		}
		if current != conn {
			current.Close()
		}
		current = next
		defer next.Close()
	}
}

// finalMessages returns the received messages carrying CONTINUE=false.
func (c *fakeClient) finalMessages() []*message.Message {
	var out []*message.Message
	for _, m := range c.received {
		if cont, err := m.Continue(); err == nil && !cont {
			out = append(out, m)
		}
	}
	return out
}

// mockStore is a test double for RecordStore.
type mockStore struct {
	mu      sync.Mutex
	records []SessionRecord
	err     error
}

func (s *mockStore) AddRecord(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *mockStore) all() []SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionRecord(nil), s.records...)
}

// mockObserver records session outcomes.
type mockObserver struct {
	mu        sync.Mutex
	completed []SessionRecord
	aborted   []error
}

func (o *mockObserver) SessionCompleted(rec SessionRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, rec)
}

func (o *mockObserver) SessionAborted(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted = append(o.aborted, err)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}
