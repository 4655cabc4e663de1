// Package watcher reports settled file system changes under comic roots.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors directory trees with fsnotify. File writes are held back
// until size and mtime stop changing for SettleDelay, so a comic being
// copied in produces one event per file rather than one per write.
type Watcher struct {
	logger  *slog.Logger
	opts    Options
	watcher *fsnotify.Watcher

	pending map[string]*pendingEvent // path -> pending event info
	mu      sync.Mutex               // protects pending

	events   chan Event
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// pendingEvent tracks a file that may still be changing
type pendingEvent struct {
	kind    EventType
	size    int64
	modTime time.Time
	timer   *time.Timer
}

// New creates a new file watcher.
func New(logger *slog.Logger, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		logger:  logger,
		opts:    opts,
		watcher: fw,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory tree to be monitored.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", path)
	}
	return w.watchDir(path)
}

// Unwatch stops monitoring path and every directory below it.
func (w *Watcher) Unwatch(path string) error {
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)

	var errs []error
	for _, p := range w.watcher.WatchList() {
		if p != path && !strings.HasPrefix(p, prefix) {
			continue
		}
		if err := w.watcher.Remove(p); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watchDir recursively watches a directory
func (w *Watcher) watchDir(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("failed to access path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && w.opts.ignored(p) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(p); err != nil {
			w.logger.Error("failed to add watch", "path", p, "error", err)
			return nil
		}

		w.logger.Debug("added watch", "path", p)
		return nil
	})
}

// Start processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("watcher error dropped", "error", err)
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.opts.ignored(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// a rename is seen as removal here and a create at the new name
		w.cancelPending(path)
		w.emit(Event{Type: EventRemoved, Path: path})

	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.watchDir(path); err != nil {
				w.logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			w.emit(Event{Type: EventAdded, Path: path, IsDir: true, ModTime: info.ModTime()})
			return
		}
		w.startSettling(path, EventAdded)

	case event.Has(fsnotify.Write):
		w.startSettling(path, EventModified)
	}
}

// startSettling (re)arms the settle timer for a file.
func (w *Watcher) startSettling(path string, kind EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		// a create followed by writes is still an add
		if p.kind == EventAdded {
			kind = EventAdded
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		return
	}
	if info.IsDir() {
		return
	}

	w.pending[path] = &pendingEvent{
		kind:    kind,
		size:    info.Size(),
		modTime: info.ModTime(),
		timer:   time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) }),
	}
}

// checkSettled emits the event if the file stopped changing, or waits another round.
func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) })
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	w.mu.Unlock()

	w.emit(Event{
		Type:    p.kind,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	case <-w.done:
	}
}

// Events returns the channel for receiving file system events.
// It is never closed; stop reading once Stop returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel for receiving errors
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop stops the watcher and releases resources. It is safe to call twice.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		clear(w.pending)
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
