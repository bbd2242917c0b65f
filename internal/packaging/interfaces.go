package packaging

// SystemdController manages systemd units. Operations that change state
// return nil when the state already holds.
type SystemdController interface {
	IsAvailable() bool
	DaemonReload() error
	Enable(unit string) error
	Disable(unit string) error
	Stop(unit string) error
	IsActive(unit string) bool
}

// RootChecker reports whether the process runs with root privileges.
type RootChecker interface {
	IsRoot() bool
}
