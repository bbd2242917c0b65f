package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/plexsphere/natcheck/internal/metrics"
	"github.com/plexsphere/natcheck/internal/mux"
	"github.com/plexsphere/natcheck/internal/natcheck"
	"github.com/plexsphere/natcheck/internal/store"
	"github.com/plexsphere/natcheck/internal/transport"
)

// Server runs the multiplexer and the metrics reporter over a shared
// engine and record store.
type Server struct {
	cfg      Config
	base     *slog.Logger
	logger   *slog.Logger
	network  transport.Network
	store    store.Store
	recorder *metrics.Recorder
	engine   *natcheck.Engine
}

// New creates a Server from a validated configuration.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	records, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	network := transport.NewReuseNetwork(cfg.NATCheck.DialTimeout, cfg.NATCheck.ConnectRetryInterval)
	recorder := metrics.NewRecorder()
	engine := natcheck.NewEngine(cfg.NATCheck, network, records, logger)
	engine.SetObserver(recorder)

	return &Server{
		cfg:      cfg,
		base:     logger,
		logger:   logger.With("component", "server"),
		network:  network,
		store:    records,
		recorder: recorder,
		engine:   engine,
	}, nil
}

// Store returns the record store sessions are written to.
func (s *Server) Store() store.Store {
	return s.store
}

// Recorder returns the session counters.
func (s *Server) Recorder() *metrics.Recorder {
	return s.recorder
}

// Listen binds the main server address. The listener is handed to Serve.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	ln, err := s.network.Listen(ctx, s.cfg.NATCheck.MainAddress, s.cfg.NATCheck.ListenBacklog)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return ln, nil
}

// Run listens on the main address and serves until ctx is cancelled or a
// fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the multiplexer on ln and the metrics reporter. It returns nil
// after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("natcheck server starting",
		"main", s.cfg.NATCheck.MainAddress.String(),
		"secondary", s.cfg.NATCheck.SecondaryAddress.String(),
		"store", s.cfg.Store.Backend,
	)

	m := mux.New(ln, s.engine, s.base)
	reporter := metrics.NewManager(s.cfg.Metrics, s.recorder, metrics.NewLogReporter(s.base), s.base)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.logger.Info("natcheck server stopped")
		return nil
	}
	if err != nil {
		s.logger.Error("natcheck server failed", "error", err)
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
