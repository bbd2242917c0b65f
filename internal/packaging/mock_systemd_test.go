package packaging

import (
	"io"
	"log/slog"
)

type mockSystemdController struct {
	available       bool
	active          bool
	daemonReloadErr error
	enableErr       error
	disableErr      error
	stopErr         error

	daemonReloadCalls int
	enableCalls       []string
	disableCalls      []string
	stopCalls         []string
}

func (m *mockSystemdController) IsAvailable() bool      { return m.available }
func (m *mockSystemdController) IsActive(_ string) bool { return m.active }

func (m *mockSystemdController) DaemonReload() error {
	m.daemonReloadCalls++
	return m.daemonReloadErr
}

func (m *mockSystemdController) Enable(unit string) error {
	m.enableCalls = append(m.enableCalls, unit)
	return m.enableErr
}

func (m *mockSystemdController) Disable(unit string) error {
	m.disableCalls = append(m.disableCalls, unit)
	return m.disableErr
}

func (m *mockSystemdController) Stop(unit string) error {
	m.stopCalls = append(m.stopCalls, unit)
	return m.stopErr
}

type mockRootChecker struct {
	isRoot bool
}

func (m *mockRootChecker) IsRoot() bool { return m.isRoot }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
