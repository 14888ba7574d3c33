package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to configuration files on disk.
// Changes are never applied to a running gateway; callers decide what to do
// with the notice (the gateway logs it and publishes an event).
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration
	logger   *slog.Logger
	done     sync.WaitGroup
}

// NewWatcher creates a watcher for the given files and directories
func NewWatcher(onChange func(path string), paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := fw.Add(p); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		watcher:  fw,
		onChange: onChange,
		debounce: 100 * time.Millisecond,
		logger:   slog.Default().With("component", "config-watcher"),
	}

	w.done.Add(1)
	go w.run()

	return w, nil
}

// run collects events and reports them once the burst settles. onChange
// is only ever called from this goroutine, so Close waiting on it
// guarantees no notice arrives afterwards.
func (w *Watcher) run() {
	defer w.done.Done()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = make(map[string]struct{})
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			paths := pending
			pending = make(map[string]struct{})
			for p := range paths {
				w.onChange(p)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watch error", "error", err)
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.done.Wait()
	return err
}
