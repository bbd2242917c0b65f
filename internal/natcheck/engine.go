package natcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/plexsphere/natcheck/internal/message"
	"github.com/plexsphere/natcheck/internal/transport"
)

// RecordStore persists finished session records.
type RecordStore interface {
	AddRecord(ctx context.Context, rec SessionRecord) error
}

// Observer is notified of session outcomes.
type Observer interface {
	SessionCompleted(rec SessionRecord)
	SessionAborted(err error)
}

// Engine runs the classification protocol on accepted client connections.
// Sessions must not run concurrently: mapping rounds accept on shared
// server addresses and an interleaved session would receive another
// client's reconnect.
type Engine struct {
	cfg      Config
	network  transport.Network
	store    RecordStore
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. Config defaults are applied automatically.
func NewEngine(cfg Config, network transport.Network, store RecordStore, logger *slog.Logger) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:     cfg,
		network: network,
		store:   store,
		logger:  logger.With("component", "natcheck"),
		now:     time.Now,
	}
}

// SetObserver registers o to receive session outcomes.
// Must be called before Run.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Run classifies the NAT of the client connected on conn and stores the
// resulting record. conn is never closed; the caller keeps it open so the
// NAT keeps the client's first mapping allocated.
//
// A returned error means no record was written. Errors matching IsFatal
// must stop the server.
func (e *Engine) Run(ctx context.Context, conn net.Conn) (*SessionRecord, error) {
	id := uuid.New().String()
	s := &session{
		engine: e,
		client: conn,
		logger: e.logger.With("session_id", id, "remote_addr", conn.RemoteAddr().String()),
	}
	s.rec.SessionID = id
	defer s.release()

	// Unblock reads and writes on the client connection when ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	rec, err := s.run(ctx)
	if err != nil {
		s.logger.Info("session aborted", "error", err)
		if e.observer != nil {
			e.observer.SessionAborted(err)
		}
		return nil, err
	}
	if e.observer != nil {
		e.observer.SessionCompleted(*rec)
	}
	return rec, nil
}

// session is the state of one classification run.
type session struct {
	engine *Engine
	client net.Conn
	logger *slog.Logger

	rec   SessionRecord
	ln    net.Listener // listener of the current mapping round
	round net.Conn     // connection accepted in the latest mapping round
}

func (s *session) run(ctx context.Context) (*SessionRecord, error) {
	cfg := s.engine.cfg

	// S0: identify.
	local, ext, err := s.identify(ctx)
	if err != nil {
		return nil, err
	}

	if local == ext {
		s.logger.Info("client is not behind a NAT", "address", ext.String())
		if err := s.send(s.client, message.New().SetBool(message.FieldContinue, false)); err != nil {
			return nil, err
		}
		return s.finish(ctx, NoNAT(), ext)
	}
	if local.IP == ext.IP {
		s.logger.Warn("local IP equals external IP but ports differ",
			"local_port", local.Port,
			"external_port", ext.Port,
		)
	}

	// S1: filter probe.
	filter, err := s.probeFilter(ctx, ext)
	if err != nil {
		return nil, err
	}
	s.logger.Info("filtering classified", "filtering", filter.String())

	// S2: first mapping round, a new destination IP.
	first := transport.Address{IP: cfg.SecondaryAddress.IP, Port: cfg.MainAddress.Port}
	msg := message.New().
		SetBool(message.FieldContinue, true).
		SetInt(message.FieldFilterType, int64(filter)).
		SetString(message.FieldExternIP, ext.IP).
		SetInt(message.FieldExternPort, int64(ext.Port))
	ext2, err := s.nextRound(ctx, first, msg)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("mapping round observed", "round", 2, "external", ext2.String())
	s.warnIPChange(ext, ext2)

	if ext2 == ext {
		nat := NATType{HasNAT: true, Mapping: EndpointIndependent, Filtering: filter, Predictable: true, PortDelta: 0}
		if err := s.sendResult(EndpointIndependent); err != nil {
			return nil, err
		}
		return s.finish(ctx, nat, ext)
	}

	// S3: second mapping round, same destination IP, new port.
	ext3, err := s.nextRound(ctx, cfg.SecondaryAddress, continueMessage())
	if err != nil {
		return nil, err
	}
	s.logger.Debug("mapping round observed", "round", 3, "external", ext3.String())
	s.warnIPChange(ext2, ext3)

	if ext3.Port == ext2.Port {
		nat := NATType{
			HasNAT:      true,
			Mapping:     AddressDependent,
			Filtering:   filter,
			Predictable: true,
			PortDelta:   int32(int(ext2.Port) - int(ext.Port)),
		}
		if err := s.sendResult(AddressDependent); err != nil {
			return nil, err
		}
		return s.finish(ctx, nat, ext2)
	}

	// S4: port-dependent search.
	search := newPortSearch(ext, ext2, ext3)
	res, err := search.run(ctx, cfg.MaxSearchAttempts, func(ctx context.Context, try int) (transport.Address, error) {
		at := transport.Address{IP: cfg.SecondaryAddress.IP, Port: cfg.SecondaryAddress.Port + uint16(try)}
		extN, err := s.nextRound(ctx, at, continueMessage())
		if err != nil {
			return transport.Address{}, err
		}
		s.logger.Debug("mapping round observed", "round", 3+try, "external", extN.String())
		s.warnIPChange(search.last, extN)
		return extN, nil
	})
	if err != nil {
		return nil, err
	}

	nat := NATType{HasNAT: true, Mapping: AddressAndPortDependent, Filtering: filter, Predictable: res.Predictable}
	if res.Predictable {
		nat.PortDelta = int32(res.PortDelta)
	} else {
		s.logger.Info("external port allocation is not predictable", "rounds", res.Rounds)
	}
	if err := s.sendResult(AddressAndPortDependent); err != nil {
		return nil, err
	}
	return s.finish(ctx, nat, res.External)
}

// identify reads the client's announcement and returns its local address and
// the external address observed for the connection.
func (s *session) identify(ctx context.Context) (local, ext transport.Address, err error) {
	msg, err := message.NewProxy(s.client).Read()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return local, ext, fmt.Errorf("natcheck: identify: %w", errors.Join(ErrPeerClosed, ctxErr))
		}
		return local, ext, fmt.Errorf("natcheck: identify: %w", classifyReadError(err))
	}
	s.logger.Debug("received identification", "message", msg)

	if !msg.HasAll(message.FieldLocalIP, message.FieldLocalPort, message.FieldIdentifier) {
		return local, ext, fmt.Errorf("%w: identification lacks %s, %s or %s", ErrProtocolViolation,
			message.FieldLocalIP, message.FieldLocalPort, message.FieldIdentifier)
	}
	ip, err := msg.String(message.FieldLocalIP)
	if err != nil {
		return local, ext, errors.Join(ErrProtocolViolation, err)
	}
	port, err := msg.Port(message.FieldLocalPort)
	if err != nil {
		return local, ext, errors.Join(ErrProtocolViolation, err)
	}
	id, err := msg.String(message.FieldIdentifier)
	if err != nil {
		return local, ext, errors.Join(ErrProtocolViolation, err)
	}
	if id == "" {
		return local, ext, fmt.Errorf("%w: empty %s", ErrProtocolViolation, message.FieldIdentifier)
	}

	ext, err = transport.PeerAddress(s.client)
	if err != nil {
		return local, ext, errors.Join(ErrPeerClosed, err)
	}
	local = transport.Address{IP: ip, Port: port}

	s.rec.Identifier = id
	s.rec.Local = local
	s.rec.External = ext
	s.logger = s.logger.With("identifier", id)
	s.logger.Info("client identified", "local", local.String(), "external", ext.String())
	return local, ext, nil
}

// probeFilter connects back to the client's external address from
// (IP2, Port1) and then from (IP1, Port2).
func (s *session) probeFilter(ctx context.Context, ext transport.Address) (Behavior, error) {
	cfg := s.engine.cfg

	ok, err := s.probe(ctx, transport.Address{IP: cfg.SecondaryAddress.IP, Port: cfg.MainAddress.Port}, ext)
	if err != nil {
		return BehaviorUnknown, err
	}
	if ok {
		return EndpointIndependent, nil
	}

	ok, err = s.probe(ctx, transport.Address{IP: cfg.MainAddress.IP, Port: cfg.SecondaryAddress.Port}, ext)
	if err != nil {
		return BehaviorUnknown, err
	}
	if ok {
		return AddressDependent, nil
	}
	return AddressAndPortDependent, nil
}

// probe reports whether a connection from local to remote succeeds. The
// probing connection is closed immediately.
func (s *session) probe(ctx context.Context, local, remote transport.Address) (bool, error) {
	cfg := s.engine.cfg
	conn, err := s.engine.network.Dial(ctx, local, remote, cfg.ConnectRetries)
	if err != nil {
		if errors.Is(err, transport.ErrConnectFailed) {
			s.logger.Debug("filter probe unanswered", "from", local.String())
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	conn.Close()
	s.logger.Debug("filter probe connected", "from", local.String())
	return true, nil
}

// nextRound listens on at, instructs the client over the current connection
// to reconnect there and returns the external address of the new connection.
func (s *session) nextRound(ctx context.Context, at transport.Address, msg *message.Message) (transport.Address, error) {
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
	ln, err := s.engine.network.Listen(ctx, at, s.engine.cfg.ListenBacklog)
	if err != nil {
		return transport.Address{}, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	s.ln = ln

	msg.SetString(message.FieldChangeIP, at.IP).SetInt(message.FieldChangePort, int64(at.Port))
	if err := s.send(s.current(), msg); err != nil {
		return transport.Address{}, err
	}
	if s.round != nil {
		s.round.Close()
		s.round = nil
	}

	acceptCtx := ctx
	if d := s.engine.cfg.RoundTimeout; d > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	conn, err := transport.Accept(acceptCtx, ln)
	if err != nil {
		if ctx.Err() != nil {
			return transport.Address{}, fmt.Errorf("natcheck: accept on %s: %w", at, ctx.Err())
		}
		return transport.Address{}, fmt.Errorf("%w: accept on %s: %w", ErrPeerClosed, at, err)
	}
	s.round = conn

	ext, err := transport.PeerAddress(conn)
	if err != nil {
		return transport.Address{}, errors.Join(ErrPeerClosed, err)
	}
	s.rec.External = ext
	return ext, nil
}

// warnIPChange logs when the NAT used a different public IP between rounds.
// Classification continues on ports alone.
func (s *session) warnIPChange(prev, cur transport.Address) {
	if prev.IP != cur.IP {
		s.logger.Warn("NAT allocated a different public IP to the same host",
			"previous", prev.String(),
			"current", cur.String(),
		)
	}
}

// current is the connection the next instruction is sent on.
func (s *session) current() net.Conn {
	if s.round != nil {
		return s.round
	}
	return s.client
}

func (s *session) send(conn net.Conn, msg *message.Message) error {
	if err := message.NewProxy(conn).Write(msg); err != nil {
		return errors.Join(ErrPeerClosed, err)
	}
	return nil
}

// sendResult sends the terminal mapping message on the latest connection.
func (s *session) sendResult(mapping Behavior) error {
	msg := message.New().
		SetInt(message.FieldMapType, int64(mapping)).
		SetBool(message.FieldContinue, false)
	return s.send(s.current(), msg)
}

func (s *session) finish(ctx context.Context, nat NATType, external transport.Address) (*SessionRecord, error) {
	s.rec.NAT = nat
	s.rec.External = external
	s.rec.CompletedAt = s.engine.now().UTC()

	if err := s.engine.store.AddRecord(ctx, s.rec); err != nil {
		s.logger.Error("record store rejected session record", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRecordRejected, err)
	}

	s.logger.Info("NAT classified",
		"nat_type", nat.LegacyName(),
		"mapping", nat.Mapping.String(),
		"filtering", nat.Filtering.String(),
		"prediction", nat.PredictionString(),
		"external", external.String(),
	)
	rec := s.rec
	return &rec, nil
}

// release frees the round listener and connection. The client's first
// connection is left open.
func (s *session) release() {
	if s.ln != nil {
		s.ln.Close()
	}
	if s.round != nil {
		s.round.Close()
	}
}

func continueMessage() *message.Message {
	return message.New().SetBool(message.FieldContinue, true)
}
