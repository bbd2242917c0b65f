package metrics

import (
	"context"
	"sync"
)

// mockReporter records Report calls.
type mockReporter struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
	panic bool
}

func (m *mockReporter) Report(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	if m.panic {
		panic("reporter exploded")
	}
	return m.err
}

func (m *mockReporter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func (m *mockReporter) last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[len(m.snaps)-1]
}
