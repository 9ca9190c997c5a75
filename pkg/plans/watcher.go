package plans

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/subbill/pkg/observability"
)

// Watcher reloads a plan seed file whenever it changes on disk
type Watcher struct {
	path     string
	saver    Saver
	logger   *observability.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	reloaded chan struct{}
}

// NewWatcher creates a watcher for the seed file at path.
// The containing directory is watched so editor rename-on-save is picked up.
func NewWatcher(path string, saver Saver, logger *observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to resolve plan file path: %w", err)
	}

	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		saver:    saver,
		logger:   logger.WithField("plan_file", abs),
		watcher:  fw,
		debounce: 250 * time.Millisecond,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded is signaled after each successful reload
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts of events per save
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("plan file watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	seeded, err := LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("failed to reload plan file")
		return
	}
	if err := Seed(ctx, w.saver, seeded); err != nil {
		w.logger.WithError(err).Error("failed to apply plan file")
		return
	}

	w.logger.WithField("plans", len(seeded)).Info("plan catalog reloaded")
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
