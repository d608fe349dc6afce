package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydlexius/archarvest/internal/harvest"
	"github.com/sydlexius/archarvest/internal/updater"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRunner struct {
	passes   atomic.Int32
	inflight atomic.Int32
	overlap  atomic.Bool
	notify   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{notify: make(chan struct{}, 64)}
}

func (r *fakeRunner) RunPass(context.Context) *harvest.PassResult {
	if r.inflight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	r.inflight.Add(-1)
	r.passes.Add(1)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return &harvest.PassResult{}
}

type fakeChecker struct {
	decision updater.Decision
	checks   atomic.Int32
}

func (c *fakeChecker) CheckForUpdate(context.Context) updater.Decision {
	c.checks.Add(1)
	return c.decision
}

func (c *fakeChecker) Path() string { return "/tmp/d3d9.dll" }

type fakeInstaller struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (i *fakeInstaller) Install(_ context.Context, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths = append(i.paths, path)
	return i.err
}

func (i *fakeInstaller) calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.paths)
}

func waitForPasses(t *testing.T, r *fakeRunner, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for int(r.passes.Load()) < n {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d passes, got %d", n, r.passes.Load())
		}
	}
}

func TestRun_NonPositiveInterval(t *testing.T) {
	l := New(Config{Interval: 0}, nil, nil, newFakeRunner(), testLogger())
	assert.Error(t, l.Run(context.Background()), "zero interval is rejected")
}

func TestRun_RepeatsSequentially(t *testing.T) {
	runner := newFakeRunner()
	l := New(Config{InitialDelay: 5 * time.Millisecond, Interval: 5 * time.Millisecond}, nil, nil, runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitForPasses(t, runner, 3)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.False(t, runner.overlap.Load(), "passes overlapped")
}

func TestRun_CanceledDuringInitialDelay(t *testing.T) {
	runner := newFakeRunner()
	l := New(Config{InitialDelay: time.Hour, Interval: time.Hour}, nil, nil, runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop promptly")
	}
	assert.Zero(t, runner.passes.Load())
}

func TestRun_WakeShortensInterval(t *testing.T) {
	runner := newFakeRunner()
	l := New(Config{Interval: time.Hour}, nil, nil, runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx) //nolint:errcheck

	waitForPasses(t, runner, 1)
	l.Wake()
	waitForPasses(t, runner, 2)
}

func TestWake_NeverBlocks(t *testing.T) {
	l := New(DefaultConfig(), nil, nil, newFakeRunner(), testLogger())
	assert.NotPanics(t, func() {
		for range 10 {
			l.Wake()
		}
	})
}

func TestRunOnce_StaleInstalls(t *testing.T) {
	checker := &fakeChecker{decision: updater.Stale}
	installer := &fakeInstaller{}
	runner := newFakeRunner()

	New(DefaultConfig(), checker, installer, runner, testLogger()).RunOnce(context.Background())

	require.Equal(t, 1, installer.calls())
	assert.Equal(t, "/tmp/d3d9.dll", installer.paths[0])
	assert.Equal(t, int32(1), runner.passes.Load(), "pass did not run")
}

func TestRunOnce_InstallFailureDoesNotStopPass(t *testing.T) {
	checker := &fakeChecker{decision: updater.Stale}
	installer := &fakeInstaller{err: errors.New("download failed")}
	runner := newFakeRunner()

	New(DefaultConfig(), checker, installer, runner, testLogger()).RunOnce(context.Background())

	assert.Equal(t, int32(1), runner.passes.Load(), "pass should run after a failed install")
}

func TestRunOnce_UpToDateAndUnknownSkipInstall(t *testing.T) {
	for _, d := range []updater.Decision{updater.UpToDate, updater.Unknown} {
		t.Run(d.String(), func(t *testing.T) {
			checker := &fakeChecker{decision: d}
			installer := &fakeInstaller{}
			runner := newFakeRunner()

			New(DefaultConfig(), checker, installer, runner, testLogger()).RunOnce(context.Background())

			assert.Zero(t, installer.calls())
			assert.Equal(t, int32(1), checker.checks.Load())
			assert.Equal(t, int32(1), runner.passes.Load(), "pass did not run")
		})
	}
}

func TestRunOnce_Canceled(t *testing.T) {
	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(DefaultConfig(), &fakeChecker{decision: updater.UpToDate}, nil, runner, testLogger()).RunOnce(ctx)
	assert.True(t, res.Canceled)
	assert.Zero(t, runner.passes.Load(), "pass ran after cancellation")
}
