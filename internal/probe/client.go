package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plexsphere/natcheck/internal/message"
	"github.com/plexsphere/natcheck/internal/natcheck"
	"github.com/plexsphere/natcheck/internal/transport"
)

// ErrUnexpectedMessage is returned when the server sends a message the
// client cannot act on.
var ErrUnexpectedMessage = errors.New("probe: unexpected server message")

// Result is what the server reported to the client.
type Result struct {
	HasNAT    bool
	Filtering natcheck.Behavior
	Mapping   natcheck.Behavior

	// External is the external address the server observed on the first connection.
	External transport.Address

	// Rounds is the number of reconnects the server asked for.
	Rounds int
}

// NAT converts r into the classification type. Port prediction is known
// only to the server and left unset.
func (r Result) NAT() natcheck.NATType {
	if !r.HasNAT {
		return natcheck.NoNAT()
	}
	return natcheck.NATType{HasNAT: true, Mapping: r.Mapping, Filtering: r.Filtering}
}

// Client runs checks against a NAT checker server.
type Client struct {
	cfg     Config
	network transport.Network
	logger  *slog.Logger
}

// NewClient creates a Client using a reuse-enabled TCP network.
// Config defaults are applied automatically.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.ApplyDefaults()
	return NewClientWithNetwork(cfg, transport.NewReuseNetwork(cfg.DialTimeout, cfg.RetryInterval), logger)
}

// NewClientWithNetwork creates a Client on network. The network must share
// local ports between a listener and outbound connections.
func NewClientWithNetwork(cfg Config, network transport.Network, logger *slog.Logger) *Client {
	cfg.ApplyDefaults()
	return &Client{
		cfg:     cfg,
		network: network,
		logger:  logger.With("component", "probe"),
	}
}

// Check runs one classification session. The first connection stays open
// until the session ends so the NAT keeps its first mapping.
func (c *Client) Check(ctx context.Context) (*Result, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	ln, err := c.network.Listen(ctx, c.cfg.Local, transport.DefaultBacklog)
	if err != nil {
		return nil, fmt.Errorf("probe: listen for filter probes: %w", err)
	}
	probes := newProbeSink(ln, c.cfg.DrainTimeout, c.logger)
	probes.start()
	defer probes.stop()

	first, err := c.network.Dial(ctx, c.cfg.Local, c.cfg.Server, c.cfg.ConnectRetries)
	if err != nil {
		return nil, fmt.Errorf("probe: connect to server: %w", err)
	}
	s := &clientSession{conns: []net.Conn{first}}
	defer s.close()
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	ident := message.New().
		SetString(message.FieldLocalIP, c.cfg.Announce.IP).
		SetInt(message.FieldLocalPort, int64(c.cfg.Announce.Port)).
		SetString(message.FieldIdentifier, c.cfg.Identifier)
	if err := message.NewProxy(first).Write(ident); err != nil {
		return nil, fmt.Errorf("probe: send identification: %w", err)
	}
	c.logger.Debug("identification sent", "server", c.cfg.Server.String(), "local", c.cfg.Local.String())

	res := &Result{}
	current := first
	for {
		msg, err := message.NewProxy(current).Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("probe: read server message: %w", err)
		}
		c.logger.Debug("server message", "message", msg)

		cont, err := msg.Continue()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		if err := res.absorb(msg); err != nil {
			return nil, err
		}
		if !cont {
			break
		}

		target, err := changeTarget(msg)
		if err != nil {
			return nil, err
		}
		res.HasNAT = true
		res.Rounds++

		// Filter probes reuse the tuples of later rounds; let them finish first.
		probes.wait()

		next, err := c.network.Dial(ctx, c.cfg.Local, target, c.cfg.ConnectRetries)
		if err != nil {
			return nil, fmt.Errorf("probe: reconnect to %s: %w", target, err)
		}
		c.logger.Debug("reconnected", "round", res.Rounds, "target", target.String())
		s.add(next)
		if current != first {
			s.drop(current)
		}
		current = next
	}

	c.logger.Info("check finished",
		"has_nat", res.HasNAT,
		"filtering", res.Filtering.String(),
		"mapping", res.Mapping.String(),
		"external", res.External.String(),
		"rounds", res.Rounds,
	)
	return res, nil
}

// absorb copies the classification fields of msg into r.
func (r *Result) absorb(msg *message.Message) error {
	if msg.Has(message.FieldFilterType) {
		v, err := msg.Int(message.FieldFilterType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		if r.Filtering, err = natcheck.ParseBehavior(v); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
	}
	if msg.Has(message.FieldExternIP) {
		ip, err := msg.String(message.FieldExternIP)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		port, err := msg.Port(message.FieldExternPort)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		r.External = transport.Address{IP: ip, Port: port}
	}
	if msg.Has(message.FieldMapType) {
		v, err := msg.Int(message.FieldMapType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		if r.Mapping, err = natcheck.ParseBehavior(v); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		r.HasNAT = true
	}
	return nil
}

func changeTarget(msg *message.Message) (transport.Address, error) {
	ip, err := msg.String(message.FieldChangeIP)
	if err != nil {
		return transport.Address{}, fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
	}
	port, err := msg.Port(message.FieldChangePort)
	if err != nil {
		return transport.Address{}, fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
	}
	target, err := transport.ParseAddress(transport.Address{IP: ip, Port: port}.String())
	if err != nil {
		return transport.Address{}, fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
	}
	return target, nil
}

// clientSession tracks the open connections of a check.
type clientSession struct {
	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func (s *clientSession) add(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.conns = append(s.conns, c)
}

func (s *clientSession) drop(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.conns {
		if x == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	c.Close()
}

func (s *clientSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// probeSink accepts the server's filter probes and holds each one until
// the server closes it.
type probeSink struct {
	ln           net.Listener
	drainTimeout time.Duration
	logger       *slog.Logger

	accepting sync.WaitGroup

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

func newProbeSink(ln net.Listener, drainTimeout time.Duration, logger *slog.Logger) *probeSink {
	p := &probeSink{ln: ln, drainTimeout: drainTimeout, logger: logger}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *probeSink) start() {
	p.accepting.Add(1)
	go func() {
		defer p.accepting.Done()
		for {
			conn, err := p.ln.Accept()
			if err != nil {
				return
			}
			p.logger.Debug("filter probe received", "from", conn.RemoteAddr().String())
			p.mu.Lock()
			p.pending++
			p.mu.Unlock()
			go p.drain(conn)
		}
	}()
}

func (p *probeSink) drain(conn net.Conn) {
	defer func() {
		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(p.drainTimeout))
	io.Copy(io.Discard, conn)
}

// wait blocks until every accepted probe has been closed.
func (p *probeSink) wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.idle.Wait()
	}
}

func (p *probeSink) stop() {
	p.ln.Close()
	p.accepting.Wait()
	p.wait()
}
