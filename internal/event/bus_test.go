package event

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T, bufSize int) *Bus {
	t.Helper()
	bus := NewBus(testLogger(), bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx) //nolint:errcheck
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}, ArtifactUploaded)

	bus.Publish(Event{
		Type: ArtifactUploaded,
		Data: map[string]any{"path": "fight1.evtc"},
	})

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "fight1.evtc", received[0].Data["path"])
	assert.False(t, received[0].Timestamp.IsZero(), "expected timestamp to be set")
}

func TestSubscribeMultipleTypes(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	seen := map[Type]int{}

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type]++
	}, ArtifactUploaded, ArtifactFailed)

	bus.Publish(Event{Type: ArtifactUploaded})
	bus.Publish(Event{Type: ArtifactFailed})
	bus.Publish(Event{Type: PassCompleted})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[ArtifactUploaded])
	assert.Equal(t, 1, seen[ArtifactFailed])
	assert.Zero(t, seen[PassCompleted], "handler received an unsubscribed type")
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: PassCompleted}) })
}

func TestBufferFull(t *testing.T) {
	bus := NewBus(testLogger(), 2)
	// Not running: events accumulate in the channel.
	bus.Publish(Event{Type: PassCompleted})
	bus.Publish(Event{Type: PassCompleted})
	// Third event is dropped without blocking.
	assert.NotPanics(t, func() { bus.Publish(Event{Type: PassCompleted}) })
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	secondCalled := false

	bus.Subscribe(func(_ Event) {
		panic("test panic")
	}, DependencyInstalled)
	bus.Subscribe(func(_ Event) {
		mu.Lock()
		defer mu.Unlock()
		secondCalled = true
	}, DependencyInstalled)

	bus.Publish(Event{Type: DependencyInstalled})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, secondCalled, "second handler should still be called after first panics")
}

func TestRunDrainsOnCancel(t *testing.T) {
	bus := NewBus(testLogger(), 16)

	count := 0
	bus.Subscribe(func(_ Event) { count++ }, PassCompleted)

	// Publish before running, then cancel immediately.
	bus.Publish(Event{Type: PassCompleted})
	bus.Publish(Event{Type: PassCompleted})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	assert.Equal(t, 2, count, "all queued events drained")
}
