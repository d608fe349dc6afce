// Package scanner discovers combat logs awaiting upload and owns the marker
// files that record a successful upload.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Scanner walks a log directory for artifacts with a given extension.
type Scanner struct {
	extension    string
	markerSuffix string
	logger       *slog.Logger
}

// New creates a Scanner. extension includes the leading dot (".evtc");
// markerSuffix is appended to an artifact's path to form its marker.
func New(extension, markerSuffix string, logger *slog.Logger) *Scanner {
	return &Scanner{
		extension:    extension,
		markerSuffix: markerSuffix,
		logger:       logger.With(slog.String("component", "scanner")),
	}
}

// MarkerPath returns the marker file path for an artifact path.
func (s *Scanner) MarkerPath(path string) string {
	return path + s.markerSuffix
}

// IsProcessed reports whether the marker for path exists.
func (s *Scanner) IsProcessed(path string) bool {
	_, err := os.Stat(s.MarkerPath(path))
	return err == nil
}

// MarkProcessed creates the zero-byte marker beside the artifact. An
// existing marker is not an error.
func (s *Scanner) MarkProcessed(a Artifact) error {
	f, err := os.OpenFile(s.MarkerPath(a.Path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G304: path from the walk
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("creating marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing marker: %w", err)
	}
	return nil
}

func (s *Scanner) artifact(path string, info fs.FileInfo) Artifact {
	return Artifact{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		ReadOnly:  info.Mode().Perm()&0o200 == 0,
		Processed: s.IsProcessed(path),
	}
}

// Matches reports whether name carries the artifact extension.
func (s *Scanner) Matches(name string) bool {
	return strings.EqualFold(filepath.Ext(name), s.extension)
}

// All lazily yields every regular file under root with the artifact
// extension, in lexical walk order, whether or not it is a candidate.
// Walk errors are yielded and the walk continues; context cancellation is
// yielded once and ends the sequence.
func (s *Scanner) All(ctx context.Context, root string) iter.Seq2[Artifact, error] {
	return func(yield func(Artifact, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield(Artifact{}, fmt.Errorf("resolving root: %w", err))
			return
		}

		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(Artifact{}, ctxErr)
				return filepath.SkipAll
			}
			if err != nil {
				if !yield(Artifact{}, fmt.Errorf("walking %s: %w", path, err)) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || !s.Matches(d.Name()) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				// Removed between listing and stat; not worth reporting.
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(Artifact{}, fmt.Errorf("stat %s: %w", path, err)) {
					return filepath.SkipAll
				}
				return nil
			}
			if !yield(s.artifact(path, info), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			yield(Artifact{}, fmt.Errorf("walking %s: %w", abs, walkErr))
		}
	}
}

// Scan lazily yields only candidate artifacts: not read-only and without a
// marker. It never modifies the filesystem.
func (s *Scanner) Scan(ctx context.Context, root string) iter.Seq2[Artifact, error] {
	return func(yield func(Artifact, error) bool) {
		for a, err := range s.All(ctx, root) {
			if err != nil {
				if !yield(a, err) {
					return
				}
				continue
			}
			if !a.Candidate() {
				s.logger.Debug("skipping artifact",
					slog.String("path", a.Path),
					slog.Bool("read_only", a.ReadOnly),
					slog.Bool("processed", a.Processed))
				continue
			}
			if !yield(a, nil) {
				return
			}
		}
	}
}
