package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Reporter publishes a counter snapshot.
type Reporter interface {
	Report(ctx context.Context, snap Snapshot) error
}

// LogReporter writes snapshots to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "metrics")}
}

// Report logs snap at Info level.
func (r *LogReporter) Report(_ context.Context, snap Snapshot) error {
	r.logger.Info("session statistics",
		"completed", snap.Completed,
		"no_nat", snap.NoNAT,
		"mapping", snap.Mapping,
		"filtering", snap.Filtering,
		"predictable", snap.Predictable,
		"unpredictable", snap.Unpredictable,
		"aborted", snap.Aborted,
	)
	return nil
}

// Manager reports Recorder snapshots at a fixed interval.
type Manager struct {
	cfg      Config
	recorder *Recorder
	reporter Reporter
	logger   *slog.Logger
}

// NewManager creates a new Manager. Config defaults are applied automatically.
func NewManager(cfg Config, recorder *Recorder, reporter Reporter, logger *slog.Logger) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		cfg:      cfg,
		recorder: recorder,
		reporter: reporter,
		logger:   logger.With("component", "metrics"),
	}
}

// Run reports a snapshot every ReportInterval and once more on shutdown.
// It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("metrics disabled, skipping reporting")
		return nil
	}

	ticker := time.NewTicker(m.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.report(context.Background())
			return ctx.Err()
		case <-ticker.C:
			m.report(ctx)
		}
	}
}

func (m *Manager) report(ctx context.Context) {
	if err := m.safeReport(ctx, m.recorder.Snapshot()); err != nil {
		m.logger.Warn("metrics report failed", "error", err)
	}
}

// safeReport calls the reporter with panic recovery.
func (m *Manager) safeReport(ctx context.Context, snap Snapshot) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("reporter panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return m.reporter.Report(ctx, snap)
}
