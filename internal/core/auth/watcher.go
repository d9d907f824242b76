package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes the token file and reports login/logout transitions.
// Editors and login tools replace the file rather than write in place, so we
// watch the parent directory and filter by name.
type Watcher struct {
	source  *FileTokenSource
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

func NewWatcher(source *FileTokenSource, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(source.Path())); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(source.Path()), err)
	}
	return &Watcher{source: source, watcher: w, log: log}, nil
}

// Run blocks until ctx is cancelled, sending true on transitions to
// authenticated and false on transitions to logged out. The channel is
// closed on return.
func (w *Watcher) Run(ctx context.Context, transitions chan<- bool) error {
	defer close(transitions)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("token watcher closed unexpectedly")
			}
			if !w.shouldProcessEvent(event) {
				continue
			}
			// Give the login tool a moment to finish writing.
			time.Sleep(100 * time.Millisecond)
			if w.source.Reload() {
				_, authed := w.source.Token()
				w.log.Info("auth state changed", zap.Bool("authenticated", authed))
				select {
				case transitions <- authed:
				case <-ctx.Done():
					return nil
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("token watcher error channel closed")
			}
			w.log.Warn("token watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(w.source.Path()) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
