package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

// MemoryStore keeps records in memory for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]natcheck.SessionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]natcheck.SessionRecord)}
}

// AddRecord stores rec, replacing any earlier record of the same identifier.
func (s *MemoryStore) AddRecord(_ context.Context, rec natcheck.SessionRecord) error {
	if rec.Identifier == "" {
		return ErrEmptyIdentifier
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Identifier] = rec
	return nil
}

// Get returns the record of identifier.
func (s *MemoryStore) Get(_ context.Context, identifier string) (natcheck.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identifier]
	if !ok {
		return natcheck.SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns all records ordered by identifier.
func (s *MemoryStore) List(_ context.Context) ([]natcheck.SessionRecord, error) {
	s.mu.RLock()
	out := make([]natcheck.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

func sortRecords(recs []natcheck.SessionRecord) {
	slices.SortFunc(recs, func(a, b natcheck.SessionRecord) int {
		return strings.Compare(a.Identifier, b.Identifier)
	})
}
