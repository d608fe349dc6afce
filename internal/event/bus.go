package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ArtifactUploaded    Type = "artifact.uploaded"
	ArtifactFailed      Type = "artifact.failed"
	PassCompleted       Type = "pass.completed"
	DependencyInstalled Type = "dependency.installed"
)

// Event represents something that happened during harvesting.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that processes an event.
type Handler func(Event)

// Bus is an in-process event bus backed by a buffered channel. Handlers run
// on the Run goroutine, one event at a time.
type Bus struct {
	ch     chan Event
	mu     sync.RWMutex
	subs   map[Type][]Handler
	logger *slog.Logger
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger.With(slog.String("component", "event-bus")),
	}
}

// Subscribe registers a handler for one or more event types.
func (b *Bus) Subscribe(h Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish sends an event to the bus. Non-blocking; drops with a warning if
// the buffer is full. Safe to call on a nil *Bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type))
	}
}

// Run dispatches events until ctx is canceled, then drains whatever is
// still buffered and returns nil.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return nil
				}
			}
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
