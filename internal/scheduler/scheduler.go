// Package scheduler drives the agent: after an initial delay it repeatedly
// checks the dependency, runs a harvest pass, and waits for the interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/archarvest/internal/harvest"
	"github.com/sydlexius/archarvest/internal/updater"
)

// Config holds the loop cadence.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{InitialDelay: 10 * time.Second, Interval: 60 * time.Second}
}

// VersionChecker decides whether the installed dependency is current.
type VersionChecker interface {
	CheckForUpdate(ctx context.Context) updater.Decision
	Path() string
}

// Installer replaces the dependency at path.
type Installer interface {
	Install(ctx context.Context, path string) error
}

// PassRunner runs one harvest pass.
type PassRunner interface {
	RunPass(ctx context.Context) *harvest.PassResult
}

// Loop runs passes sequentially. A nil checker disables the update phase.
type Loop struct {
	cfg       Config
	checker   VersionChecker
	installer Installer
	runner    PassRunner
	logger    *slog.Logger
	wake      chan struct{}
}

// New creates a Loop.
func New(cfg Config, checker VersionChecker, installer Installer, runner PassRunner, logger *slog.Logger) *Loop {
	return &Loop{
		cfg:       cfg,
		checker:   checker,
		installer: installer,
		runner:    runner,
		logger:    logger.With(slog.String("component", "scheduler")),
		wake:      make(chan struct{}, 1),
	}
}

// Wake ends the current inter-pass wait early. It never blocks; wakes that
// arrive while a pass is running are coalesced into one.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled. It returns nil on cancellation and an
// error only for an unusable configuration.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler: non-positive interval %s", l.cfg.Interval)
	}
	l.logger.Info("scheduler started",
		"initial_delay", l.cfg.InitialDelay.String(),
		"interval", l.cfg.Interval.String())

	if !l.wait(ctx, l.cfg.InitialDelay, false) {
		l.logger.Info("scheduler stopped")
		return nil
	}
	for {
		l.RunOnce(ctx)
		if !l.wait(ctx, l.cfg.Interval, true) {
			l.logger.Info("scheduler stopped")
			return nil
		}
	}
}

// RunOnce performs the update phase followed by a single harvest pass.
func (l *Loop) RunOnce(ctx context.Context) *harvest.PassResult {
	l.updateDependency(ctx)
	if ctx.Err() != nil {
		return &harvest.PassResult{Canceled: true}
	}
	return l.runner.RunPass(ctx)
}

// updateDependency installs a fresh dependency when the checker reports it
// stale. Failures are logged and never stop the pass.
func (l *Loop) updateDependency(ctx context.Context) {
	if l.checker == nil {
		return
	}
	path := l.checker.Path()
	switch decision := l.checker.CheckForUpdate(ctx); decision {
	case updater.UpToDate:
		l.logger.Debug("dependency up to date", "path", path)
	case updater.Unknown:
		l.logger.Warn("dependency state unknown, skipping install", "path", path)
	case updater.Stale:
		if l.installer == nil {
			return
		}
		l.logger.Info("dependency stale, installing", "path", path)
		if err := l.installer.Install(ctx, path); err != nil {
			l.logger.Error("installing dependency", "path", path, "error", err)
		}
	}
}

// wait sleeps for d. It returns false if ctx was canceled first.
func (l *Loop) wait(ctx context.Context, d time.Duration, wakeable bool) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if wakeable {
		wake = l.wake
	}
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		l.logger.Debug("woken before interval elapsed")
		return true
	}
}
