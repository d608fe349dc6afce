// Package watcher wakes the scheduler when a new combat log lands in the
// log directory, so uploads do not wait for the next interval.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const notifyCheckTimeout = 2 * time.Second

// Service watches a log directory tree for new artifacts.
type Service struct {
	root      string
	extension string
	wakeFn    func()
	logger    *slog.Logger
	debounce  time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching map[string]bool
}

// NewService creates a watcher for root. wakeFn is called once per burst of
// artifact activity, after the tree has been quiet for the debounce period.
func NewService(root, extension string, wakeFn func(), logger *slog.Logger) *Service {
	return &Service{
		root:      root,
		extension: extension,
		wakeFn:    wakeFn,
		logger:    logger.With("component", "fs-watcher"),
		debounce:  5 * time.Second,
		watching:  make(map[string]bool),
	}
}

// SetDebounce overrides the quiet period before wakeFn fires.
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is canceled. If the filesystem does not deliver
// events for root (network shares, some container mounts) it logs a warning
// and returns immediately; the scheduler interval still picks files up.
func (s *Service) Start(ctx context.Context) error {
	if !NotifySupported(s.root, notifyCheckTimeout) {
		s.logger.Warn("filesystem events unavailable for log directory, relying on interval", "path", s.root)
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, relying on interval", "error", err)
		return nil
	}
	defer w.Close() //nolint:errcheck

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	s.addTree(s.root)

	s.logger.Info("filesystem watcher starting", "path", s.root, "debounce", s.debounce.String())

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()
	wakePending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if s.handleFSEvent(ev) {
				resetTimer(debounceTimer, s.debounce)
				wakePending = true
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if wakePending {
				wakePending = false
				s.logger.Debug("debounce elapsed, waking scheduler")
				s.wakeFn()
			}
		}
	}
}

// handleFSEvent reports whether ev should (re)arm the debounce timer.
// New subdirectories are watched as they appear.
func (s *Service) handleFSEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		s.mu.Lock()
		delete(s.watching, ev.Name)
		s.mu.Unlock()
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if !ev.Has(fsnotify.Create) {
			return false
		}
		s.logger.Debug("directory created in log tree", "path", ev.Name)
		// Files may have landed before the watch was added.
		return s.addTree(ev.Name)
	}
	if !s.matches(ev.Name) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		s.logger.Info("artifact detected", "path", ev.Name)
	}
	return true
}

// addTree watches dir and every directory beneath it. It reports whether
// any artifact was seen during the walk.
func (s *Service) addTree(dir string) bool {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("walking log tree", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if s.matches(d.Name()) {
				found = true
			}
			return nil
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.watching[path] {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		s.watching[path] = true
		return nil
	})
	if err != nil {
		s.logger.Warn("watching log tree", "path", dir, "error", err)
	}
	return found
}

func (s *Service) matches(name string) bool {
	return strings.EqualFold(filepath.Ext(name), s.extension)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
