package jobs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher turns changes to a database file into poll wake-ups.
type Watcher struct {
	w    *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
}

// WatchDatabase watches the directory holding dbPath. Writes to the
// database or its journal files send on Wake; bursts coalesce into one
// pending wake-up.
func WatchDatabase(dbPath string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(dbPath)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(dbPath), err)
	}

	dw := &Watcher{w: w, wake: make(chan struct{}, 1), done: make(chan struct{})}
	base := filepath.Base(dbPath)
	go func() {
		defer close(dw.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), base) || strings.HasSuffix(ev.Name, ".lock") {
					continue
				}
				select {
				case dw.wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("database watcher error", zap.Error(err))
			}
		}
	}()
	return dw, nil
}

// Wake delivers a value after the database changes.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
