package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/plexsphere/natcheck/internal/fsutil"
	"github.com/plexsphere/natcheck/internal/natcheck"
)

const (
	recordsDirName = "records"
	recordFileExt  = ".json"

	// keyLen is the number of hex characters of a record file name.
	keyLen = 32
)

// FileStore persists one JSON file per identifier under dir/records.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dataDir. The records
// directory is created if missing.
func NewFileStore(dataDir string, logger *slog.Logger) (*FileStore, error) {
	dir := filepath.Join(dataDir, recordsDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create records dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "store"),
	}, nil
}

// recordKey maps an identifier to a fixed-length, filesystem-safe file name.
func recordKey(identifier string) string {
	sum := blake2b.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])[:keyLen] + recordFileExt
}

// AddRecord writes rec atomically, replacing any earlier record of the
// same identifier.
func (s *FileStore) AddRecord(_ context.Context, rec natcheck.SessionRecord) error {
	if rec.Identifier == "" {
		return ErrEmptyIdentifier
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(s.dir, recordKey(rec.Identifier), data, 0o600); err != nil {
		return fmt.Errorf("store: write record: %w", err)
	}
	s.logger.Debug("record stored", "identifier", rec.Identifier, "session_id", rec.SessionID)
	return nil
}

// Get returns the record of identifier.
func (s *FileStore) Get(_ context.Context, identifier string) (natcheck.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.readFile(filepath.Join(s.dir, recordKey(identifier)))
	if errors.Is(err, os.ErrNotExist) {
		return natcheck.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return natcheck.SessionRecord{}, err
	}
	// Guards against a key collision on the truncated hash.
	if rec.Identifier != identifier {
		return natcheck.SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns all readable records ordered by identifier. Unreadable files
// are logged and skipped.
func (s *FileStore) List(ctx context.Context) ([]natcheck.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}

	var out []natcheck.SessionRecord
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordFileExt {
			continue
		}
		rec, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable record", "file", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *FileStore) readFile(path string) (natcheck.SessionRecord, error) {
	var rec natcheck.SessionRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("store: parse %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}
