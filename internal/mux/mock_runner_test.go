package mux

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

// mockRunner is a test double for SessionRunner.
type mockRunner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	calls   int

	// hold, when set, blocks each session until a value is received.
	hold chan struct{}

	// err is returned by every session.
	err error

	// started receives the remote address of every session.
	started chan string
}

func (r *mockRunner) Run(ctx context.Context, conn net.Conn) (*natcheck.SessionRecord, error) {
	r.mu.Lock()
	r.active++
	r.calls++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if r.started != nil {
		r.started <- conn.RemoteAddr().String()
	}
	if r.hold != nil {
		select {
		case <-r.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &natcheck.SessionRecord{Identifier: "client"}, nil
}

func (r *mockRunner) stats() (calls, maxSeen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.maxSeen
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}
