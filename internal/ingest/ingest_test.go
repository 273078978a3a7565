package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 16)}
}

func (c *collector) handle(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	c.ch <- path
}

func (c *collector) wait(t *testing.T) string {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for settled file")
		return ""
	}
}

func (c *collector) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-c.ch:
		t.Fatalf("Unexpected file reported: %s", p)
	case <-time.After(d):
	}
}

func startWatcher(t *testing.T, dir string, c *collector, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithSettle(50 * time.Millisecond)}, opts...)
	w := New(dir, c.handle, opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcherReportsSettledFile(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, dir, c)

	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("ftyp"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if got := c.wait(t); got != path {
		t.Errorf("Expected %s, got %s", path, got)
	}
}

func TestWatcherWaitsForWritesToStop(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, dir, c, WithSettle(200*time.Millisecond))

	path := filepath.Join(dir, "growing.mp4")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for range 5 {
		if _, err := f.Write([]byte("chunk")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	f.Close()
	writesDone := time.Now()

	c.wait(t)
	if elapsed := time.Since(writesDone); elapsed < 100*time.Millisecond {
		t.Errorf("File reported %v after last write, expected settle delay", elapsed)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, dir, c)

	for _, name := range []string{"notes.txt", ".hidden.mp4", "clip.webm"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c.expectNone(t, 300*time.Millisecond)
}

func TestWatcherReportsEachPathOnce(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, dir, c)

	path := filepath.Join(dir, "CLIP.MP4")
	if err := os.WriteFile(path, []byte("ftyp"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	c.wait(t)

	if err := os.WriteFile(path, []byte("ftypmoov"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	c.expectNone(t, 300*time.Millisecond)
}

func TestWatcherExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.mp4")
	if err := os.WriteFile(path, []byte("ftyp"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c := newCollector()
	startWatcher(t, dir, c, WithExisting())

	if got := c.wait(t); got != path {
		t.Errorf("Expected %s, got %s", path, got)
	}
}

func TestWatcherStartErrors(t *testing.T) {
	c := newCollector()

	w := New(filepath.Join(t.TempDir(), "missing"), c.handle)
	if err := w.Start(context.Background()); err == nil {
		t.Error("Expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "file.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	w = New(file, c.handle)
	if err := w.Start(context.Background()); err == nil {
		t.Error("Expected error for non-directory path")
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	c := newCollector()
	w := New(t.TempDir(), c.handle)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("Watch loop did not exit on context cancel")
	}
	if err := w.Stop(); err != nil {
		t.Logf("Stop after cancel: %v", err)
	}
}
