// Package ingest watches a drop directory and reports MP4 files once they
// have stopped growing.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smazurov/segmentcast/internal/logging"
)

// DefaultSettle is how long a file must go without writes before it is
// handed off.
const DefaultSettle = 2 * time.Second

// Handler receives the path of each settled file, once per path.
type Handler func(path string)

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		w.settle = d
	}
}

// WithExtension sets the file extension to pick up, ".mp4" by default.
func WithExtension(ext string) Option {
	return func(w *Watcher) {
		w.ext = strings.ToLower(ext)
	}
}

// WithExisting also reports files already in the directory at Start.
func WithExisting() Option {
	return func(w *Watcher) {
		w.existing = true
	}
}

// Watcher reports new files in one directory.
type Watcher struct {
	dir      string
	ext      string
	settle   time.Duration
	existing bool
	handler  Handler
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	pending map[string]time.Time
	seen    map[string]bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher for dir.
func New(dir string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     filepath.Clean(dir),
		ext:     ".mp4",
		settle:  DefaultSettle,
		handler: handler,
		logger:  logging.GetLogger("ingest"),
		pending: make(map[string]time.Time),
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The watch loop ends when ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return errors.New("ingest watcher already started")
	}

	info, err := os.Stat(w.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("ingest path is not a directory: " + w.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			watcher.Close()
			return err
		}
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() && w.matches(e.Name()) {
				w.pending[filepath.Join(w.dir, e.Name())] = now
			}
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.logger.Info("Watching for input files", "dir", w.dir, "ext", w.ext, "settle", w.settle)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	watcher, cancel, done := w.watcher, w.cancel, w.done
	w.mu.Unlock()
	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	<-done
	return err
}

// Done is closed when the watch loop exits.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Watcher) matches(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.ToLower(filepath.Ext(name)) == w.ext
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	tick := w.settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if !w.seen[event.Name] {
					w.pending[event.Name] = time.Now()
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(w.pending, event.Name)
			}

		case now := <-ticker.C:
			w.flushSettled(now)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Ingest watcher error", "error", err)
		}
	}
}

func (w *Watcher) flushSettled(now time.Time) {
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}
		w.seen[path] = true
		w.logger.Info("Input file ready", "path", path, "bytes", info.Size())
		w.handler(path)
	}
}
