package calibration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/frametransform/internal/monitoring"
)

// DefaultDebounce collapses bursts of file events (editors write, rename
// and chmod in quick succession) into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the calibrations whenever a calibration file in the
// directory changes, until ctx is done. The caller is expected to have
// called Load once already.
func (s *Server) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	monitoring.Logf("[Calibration] watching %s", s.dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			monitoring.Debugf("[Calibration] %s %s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[Calibration] watcher error: %v", err)

		case <-fire:
			fire = nil
			if err := s.Load(ctx); err != nil {
				monitoring.Logf("[Calibration] reload failed: %v", err)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !IsCalibrationFile(filepath.Base(event.Name)) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
