// Package watch turns raw filesystem notifications into coalesced change
// events for the rebuild pipeline. Bursts of events (editors write, rename
// and chmod in quick succession) are debounced into a single event carrying
// the sorted set of changed paths.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Event is one coalesced burst of filesystem changes. Paths are absolute,
// deduplicated and sorted.
type Event struct {
	Paths []string
}

// Watcher watches a source tree plus a single manifest file and emits
// debounced Events. Stop the watcher by cancelling the context passed to
// Run; the output channel is closed on the way out.
type Watcher struct {
	roots    []string
	manifest string
	filter   Filter
	debounce time.Duration
	log      *zap.Logger

	fsw    *fsnotify.Watcher
	events chan Event
}

// New creates a watcher over the given root directories. The manifest path
// may live outside the roots; its parent directory is watched too.
func New(roots []string, manifest string, filter Filter, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher failed: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		roots:    roots,
		manifest: manifest,
		filter:   filter,
		debounce: debounce,
		log:      log,
		fsw:      fsw,
		events:   make(chan Event, 1),
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	if manifest != "" {
		dir := filepath.Dir(manifest)
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("cannot watch manifest directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	return w, nil
}

// Events returns the channel of coalesced change events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run pumps the underlying watcher until ctx is cancelled. The shutdown
// signal is checked on every emission, not just at startup, so a teardown
// never races a late event.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	changed := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev, changed)
			if len(changed) > 0 && timerC == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			changed = make(map[string]struct{})
			select {
			case <-ctx.Done():
				return
			case w.events <- Event{Paths: paths}:
			}
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event, changed map[string]struct{}) {
	// new directories must be picked up so edits inside them are seen
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if w.filter.WatchDir(ev.Name) {
				if err := w.addTree(ev.Name); err != nil {
					w.log.Warn("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
				}
			}
			return
		}
	}
	if ev.Op == fsnotify.Chmod {
		return
	}
	if !w.filter.Pass(ev.Name) {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	changed[abs] = struct{}{}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !w.filter.WatchDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s failed: %w", path, err)
		}
		return nil
	})
}
