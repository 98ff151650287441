package jobqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch signals on the returned channel whenever the control file is
// created or written. Signals coalesce: a burst of writes yields at
// least one signal, never a backlog. The channel closes when ctx is
// cancelled or the watcher fails.
//
// The parent directory is watched rather than the file itself because
// Write replaces the file by rename, which would orphan a file watch.
func (q *Queue) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(q.path)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				q.logger.Warn("control file watch error", "error", err)
			}
		}
	}()

	q.logger.Debug("watching control file", "path", q.path)
	return out, nil
}
