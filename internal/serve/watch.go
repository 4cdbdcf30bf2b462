package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/leapml/internal/model"
)

// watchModel reloads the model whenever the local artifact is rewritten.
// The parent directory is watched so a file replaced by rename is seen.
func (s *Server) watchModel(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(s.cfg.ModelPath)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		s.logger.Error("failed to watch model directory", "error", err)
		return nil
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.reload(target)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// reload swaps in the artifact at path. A broken file keeps the current
// model in place.
func (s *Server) reload(path string) {
	a, err := model.Load(path)
	if err != nil {
		s.logger.Error("model reload failed", "path", path, "error", err)
		return
	}
	s.SetModel(a)
	s.logger.Info("model reloaded", slog.String("version", a.Version))
}
