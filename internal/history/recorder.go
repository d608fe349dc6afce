package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/sydlexius/archarvest/internal/event"
)

const writeTimeout = 5 * time.Second

// Subscribe records artifact and pass events from bus into the store.
// Write failures are logged; the ledger never affects uploads.
func (s *Store) Subscribe(bus *event.Bus) {
	bus.Subscribe(s.handleArtifact, event.ArtifactUploaded, event.ArtifactFailed)
	bus.Subscribe(s.handlePass, event.PassCompleted)
}

func (s *Store) handleArtifact(e event.Event) {
	r := &Record{
		PassID:    stringField(e.Data, "pass_id"),
		Path:      stringField(e.Data, "path"),
		Permalink: stringField(e.Data, "permalink"),
		Target:    stringField(e.Data, "target"),
		Boss:      stringField(e.Data, "boss"),
		Error:     stringField(e.Data, "error"),
		CreatedAt: e.Timestamp,
		Status:    StatusUploaded,
	}
	if e.Type == event.ArtifactFailed {
		r.Status = StatusFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.RecordUpload(ctx, r); err != nil {
		s.logger.Warn("recording upload history", slog.String("path", r.Path), slog.Any("error", err))
	}
}

func (s *Store) handlePass(e event.Event) {
	p := &Pass{
		ID:          stringField(e.Data, "pass_id"),
		StartedAt:   timeField(e.Data, "started_at"),
		CompletedAt: timeField(e.Data, "completed_at"),
		Discovered:  intField(e.Data, "discovered"),
		Uploaded:    intField(e.Data, "uploaded"),
		Failed:      intField(e.Data, "failed"),
		Skipped:     intField(e.Data, "skipped"),
	}
	p.Canceled, _ = e.Data["canceled"].(bool)
	if p.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.RecordPass(ctx, p); err != nil {
		s.logger.Warn("recording pass history", slog.String("pass_id", p.ID), slog.Any("error", err))
	}
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]any, key string) int {
	v, _ := data[key].(int)
	return v
}

func timeField(data map[string]any, key string) time.Time {
	v, _ := data[key].(time.Time)
	return v
}
