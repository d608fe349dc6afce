package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmptyContent is returned when the reader yields no bytes. The target is
// left untouched.
var ErrEmptyContent = errors.New("refusing to replace file with empty content")

// ReplaceFromReader streams r into target using the tmp/bak/rename pattern.
// The existing target is only touched once the new content is fully on disk,
// so a failed or truncated read leaves the previous file in place. An empty
// read fails with ErrEmptyContent.
//
// Steps:
//  1. Copy r to <target>.tmp and fsync
//  2. If <target> exists, rename it to <target>.bak
//  3. Rename <target>.tmp to <target> (restoring .bak on failure)
//  4. Remove <target>.bak
//
// Returns the number of bytes written.
func ReplaceFromReader(target string, r io.Reader, perm os.FileMode) (int64, error) {
	tmpPath := target + ".tmp"
	bakPath := target + ".bak"

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: install directories are shared with the game
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	n, err := writeTemp(tmpPath, r, perm)
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}
	if n == 0 {
		_ = os.Remove(tmpPath)
		return 0, ErrEmptyContent
	}

	if _, err := os.Stat(target); err == nil {
		_ = os.Remove(bakPath)
		if err := renameSafe(target, bakPath); err != nil {
			_ = os.Remove(tmpPath)
			return n, fmt.Errorf("backing up existing file: %w", err)
		}
	}

	if err := renameSafe(tmpPath, target); err != nil {
		if _, bakErr := os.Stat(bakPath); bakErr == nil {
			_ = renameSafe(bakPath, target)
		}
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("renaming temp to target: %w", err)
	}

	_ = os.Remove(bakPath)
	return n, nil
}

func writeTemp(path string, r io.Reader, perm os.FileMode) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) //nolint:gosec // G304: path derived from configured target
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	n, err := io.Copy(out, r)
	if err != nil {
		out.Close() //nolint:errcheck
		return n, fmt.Errorf("writing temp file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close() //nolint:errcheck
		return n, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	return n, nil
}

// renameSafe attempts os.Rename first, then falls back to copy+delete.
func renameSafe(oldPath, newPath string) error {
	err := os.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	// Rename may fail on cross-device moves or when the target is locked.
	if copyErr := copyFile(oldPath, newPath); copyErr != nil {
		return fmt.Errorf("copy fallback: %w (rename error: %w)", copyErr, err)
	}
	_ = os.Remove(oldPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is from trusted internal path
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	info, err := in.Stat()
	if err != nil {
		return err
	}
	_, err = writeTemp(dst, in, info.Mode().Perm())
	return err
}
