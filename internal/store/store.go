// Package store persists NAT classification records keyed by client identifier.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

var (
	// ErrEmptyIdentifier is returned by AddRecord for a record without identifier.
	ErrEmptyIdentifier = errors.New("store: record has no identifier")

	// ErrNotFound is returned by Get for an unknown identifier.
	ErrNotFound = errors.New("store: record not found")
)

// Store is a record sink with lookup. The latest record of an identifier wins.
type Store interface {
	natcheck.RecordStore
	Get(ctx context.Context, identifier string) (natcheck.SessionRecord, error)
	List(ctx context.Context) ([]natcheck.SessionRecord, error)
}

// Open creates the store selected by cfg. cfg must be validated.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("store: open: unknown backend %q", cfg.Backend)
	}
}
