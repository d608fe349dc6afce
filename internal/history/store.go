// Package history keeps a SQLite ledger of upload attempts and passes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store reads and writes the history tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a Store over a migrated database.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "history")),
	}
}

// RecordUpload inserts an upload attempt. ID and CreatedAt are filled in
// when empty.
func (s *Store) RecordUpload(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (id, pass_id, path, permalink, target, boss, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PassID, r.Path, r.Permalink, r.Target, r.Boss, r.Status, r.Error,
		r.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting upload record: %w", err)
	}
	return nil
}

// RecordPass inserts a pass summary.
func (s *Store) RecordPass(ctx context.Context, p *Pass) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes (id, started_at, completed_at, discovered, uploaded, failed, skipped, canceled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.StartedAt.UTC().Format(timeFormat),
		p.CompletedAt.UTC().Format(timeFormat),
		p.Discovered, p.Uploaded, p.Failed, p.Skipped, p.Canceled,
	)
	if err != nil {
		return fmt.Errorf("inserting pass record: %w", err)
	}
	return nil
}

// ListUploads returns the most recent upload attempts, newest first.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pass_id, path, permalink, target, boss, status, error, created_at
		FROM uploads ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.PassID, &r.Path, &r.Permalink, &r.Target, &r.Boss, &r.Status, &r.Error, &created); err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPasses returns the most recent pass summaries, newest first.
func (s *Store) ListPasses(ctx context.Context, limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, discovered, uploaded, failed, skipped, canceled
		FROM passes ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Pass
	for rows.Next() {
		var p Pass
		var started, completed string
		if err := rows.Scan(&p.ID, &started, &completed, &p.Discovered, &p.Uploaded, &p.Failed, &p.Skipped, &p.Canceled); err != nil {
			return nil, fmt.Errorf("scanning pass: %w", err)
		}
		p.StartedAt = parseTime(started)
		p.CompletedAt = parseTime(completed)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes uploads and passes older than maxAge and returns the number
// of rows removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeFormat)

	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning uploads: %w", err)
	}
	uploads, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM passes WHERE started_at < ?`, cutoff)
	if err != nil {
		return uploads, fmt.Errorf("pruning passes: %w", err)
	}
	passes, _ := res.RowsAffected()

	return uploads + passes, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// StartMaintenance prunes rows older than retention and optimizes the
// database once at start and then on every interval, until ctx is canceled.
func (s *Store) StartMaintenance(ctx context.Context, retention, interval time.Duration) {
	s.logger.Info("history maintenance started",
		slog.String("retention", retention.String()),
		slog.String("interval", interval.String()))

	s.maintain(ctx, retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("history maintenance stopped")
			return
		case <-ticker.C:
			s.maintain(ctx, retention)
		}
	}
}

func (s *Store) maintain(ctx context.Context, retention time.Duration) {
	if retention > 0 {
		n, err := s.Prune(ctx, retention)
		if err != nil {
			s.logger.Error("pruning history", slog.Any("error", err))
		} else if n > 0 {
			s.logger.Info("pruned history", slog.Int64("rows", n))
		}
	}
	if err := s.Optimize(ctx); err != nil {
		s.logger.Error("optimizing history database", slog.Any("error", err))
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
