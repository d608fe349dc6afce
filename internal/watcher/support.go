package watcher

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NotifySupported tests whether fsnotify delivers events for the given path.
// It creates a temporary directory inside path, watches for the Create event,
// and returns true if the event arrives within the timeout.
func NotifySupported(path string, timeout time.Duration) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(path); err != nil {
		return false
	}

	checkName := fmt.Sprintf(".archarvest_notify_%d", rand.Int63()) //nolint:gosec // G404: not security-sensitive
	checkDir := filepath.Join(path, checkName)

	if err := os.Mkdir(checkDir, 0o750); err != nil { //nolint:gosec // G301: dir is temporary
		return false
	}
	defer os.Remove(checkDir) //nolint:errcheck

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == checkName {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}
