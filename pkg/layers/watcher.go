package layers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultWatchDelay is how long the watcher waits for the layers directory to
// settle before rediscovering
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher rediscovers a registry whenever the layers directory changes.
// Bursts of events, such as an install copying many files, collapse into one
// discovery pass.
type Watcher struct {
	registry Registry
	dir      string
	delay    time.Duration
	log      *logrus.Logger
}

// NewWatcher creates a watcher for dir. A non-positive delay uses DefaultWatchDelay.
func NewWatcher(registry Registry, dir string, delay time.Duration, log *logrus.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	if log == nil {
		log = logrus.New()
	}

	return &Watcher{
		registry: registry,
		dir:      dir,
		delay:    delay,
		log:      log,
	}
}

// Run discovers once, then watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return NewError(ErrIO, "watch", "", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return NewError(ErrIO, "watch", "", fmt.Errorf("failed to create watcher: %w", err))
	}
	defer fsw.Close()

	if err := w.addWatches(fsw); err != nil {
		return NewError(ErrIO, "watch", "", err)
	}

	w.rediscover()
	w.log.Infof("Watching for layer changes in %s", w.dir)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.log.Debugf("Layers directory event: %s", event)

			// New layer directories need their own watch to see manifest edits
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.dir) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						w.log.Warnf("Failed to watch %s: %v", event.Name, err)
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.rediscover()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Watcher error: %v", err)
		}
	}
}

// addWatches watches the layers directory and each layer directory in it
func (w *Watcher) addWatches(fsw *fsnotify.Watcher) error {
	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := fsw.Add(filepath.Join(w.dir, entry.Name())); err != nil {
			w.log.Warnf("Failed to watch %s: %v", entry.Name(), err)
		}
	}
	return nil
}

func (w *Watcher) rediscover() {
	if err := w.registry.Discover(w.dir); err != nil {
		w.log.Errorf("Failed to rediscover layers: %v", err)
	}
}
