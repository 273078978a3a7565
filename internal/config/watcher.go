package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reloaded.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher reloads a file into a typed value whenever its content changes
// and passes the value to every registered handler.
//
// The parent directory is watched so that replace-by-rename saves keep
// triggering reloads. A change whose content matches the last loaded or
// remembered content is dropped.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
	seen     uint64

	fsw      *fsnotify.Watcher
	stopOnce sync.Once
	stop     context.CancelFunc
	ctx      context.Context
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce overrides DefaultDebounce.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler is called when a changed file fails to load. Handlers
// are not called in that case and the previous value stays in effect.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a watcher for path. Nothing is watched until Start.
func NewConfigWatcher[T any](path string, loader func(path string) (T, error), logger *slog.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		loader:   loader,
		logger:   logger,
		handlers: make(map[int]func(T)),
		ctx:      ctx,
		stop:     cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload adds a handler and returns a function that removes it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Remember marks data as the current file content. The owner calls it
// before writing the file itself so its own save is not reloaded.
func (w *Watcher[T]) Remember(data []byte) {
	w.mu.Lock()
	w.seen = xxhash.Sum64(data)
	w.mu.Unlock()
}

// Start takes the current content as the baseline and begins watching.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	if data, err := os.ReadFile(w.path); err == nil {
		w.Remember(data)
	}

	w.logger.Info("Watching file", "path", w.path, "debounce", w.debounce)
	go w.loop()
	return nil
}

// Stop ends watching and waits for the loop to exit. It is safe to call
// more than once.
func (w *Watcher[T]) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.stop()
		if w.fsw == nil {
			return
		}
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

// Reload loads the file now and notifies handlers, whether or not the
// content changed.
func (w *Watcher[T]) Reload() error {
	value, err := w.loader(w.path)
	if err != nil {
		w.reportError(err)
		return err
	}
	w.notify(value)
	return nil
}

func (w *Watcher[T]) loop() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("File event", "path", w.path, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reloadIfChanged()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watch error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher[T]) reloadIfChanged() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// removed without replacement; the next create reloads it
		w.logger.Debug("File unreadable", "path", w.path, "error", err)
		return
	}
	sum := xxhash.Sum64(data)

	w.mu.Lock()
	unchanged := sum == w.seen
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug("File content unchanged", "path", w.path)
		return
	}

	value, err := w.loader(w.path)
	if err != nil {
		w.reportError(err)
		return
	}
	w.Remember(data)
	w.logger.Info("File changed, reloaded", "path", w.path)
	w.notify(value)
}

func (w *Watcher[T]) reportError(err error) {
	w.logger.Warn("Failed to load file", "path", w.path, "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *Watcher[T]) notify(value T) {
	w.mu.Lock()
	handlers := make([]func(T), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
}
