package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startService(t *testing.T, root string, wakes *atomic.Int32) context.CancelFunc {
	t.Helper()
	svc := NewService(root, ".evtc", func() { wakes.Add(1) }, testLogger())
	svc.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Support check plus initial tree walk.
	time.Sleep(300 * time.Millisecond)
	return cancel
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("EVTC"), 0o644))
}

func TestNewArtifactWakes(t *testing.T) {
	root := t.TempDir()
	var wakes atomic.Int32
	startService(t, root, &wakes)

	writeFile(t, filepath.Join(root, "fight1.evtc"))
	assert.Eventually(t, func() bool { return wakes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBurstIsCoalesced(t *testing.T) {
	root := t.TempDir()
	var wakes atomic.Int32
	startService(t, root, &wakes)

	for _, name := range []string{"a.evtc", "b.evtc", "c.evtc"} {
		writeFile(t, filepath.Join(root, name))
	}
	require.Eventually(t, func() bool { return wakes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), wakes.Load(), "a single burst wakes once")
}

func TestIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	var wakes atomic.Int32
	startService(t, root, &wakes)

	writeFile(t, filepath.Join(root, "fight1.evtc.uploaded"))
	writeFile(t, filepath.Join(root, "notes.txt"))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, wakes.Load())
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	var wakes atomic.Int32
	startService(t, root, &wakes)

	sub := filepath.Join(root, "Vale Guardian")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Let the watcher register the new directory and settle.
	time.Sleep(200 * time.Millisecond)
	before := wakes.Load()

	writeFile(t, filepath.Join(sub, "20240101-200000.evtc"))
	assert.Eventually(t, func() bool { return wakes.Load() > before }, 2*time.Second, 10*time.Millisecond)
}

func TestExistingSubdirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "boss", "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	var wakes atomic.Int32
	startService(t, root, &wakes)

	writeFile(t, filepath.Join(sub, "fight.evtc"))
	assert.Eventually(t, func() bool { return wakes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	svc := NewService(root, ".evtc", func() {}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestUnwatchableRootReturns(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "missing"), ".evtc", func() {}, testLogger())
	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start should return when the root cannot be watched")
	}
}
