package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testPresets struct {
	Name    string `toml:"name"`
	Bitrate int    `toml:"bitrate"`
}

func loadTestPresets(path string) (testPresets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testPresets{}, err
	}
	var cfg testPresets
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startWatcher writes initial content, starts a watcher with a short
// debounce and stops it at test cleanup.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption[testPresets]) (*Watcher[testPresets], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.toml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	opts = append([]WatcherOption[testPresets]{WithDebounce[testPresets](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadTestPresets, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	// let the watch loop settle before the first write
	time.Sleep(100 * time.Millisecond)
	return w, path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitPresets(t *testing.T, ch <-chan testPresets) testPresets {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
		return testPresets{}
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	received := make(chan testPresets, 1)
	w, path := startWatcher(t, "name = \"240p\"\nbitrate = 1\n")
	w.OnReload(func(cfg testPresets) { received <- cfg })

	writeFile(t, path, "name = \"480p\"\nbitrate = 42\n")

	cfg := waitPresets(t, received)
	if cfg.Name != "480p" || cfg.Bitrate != 42 {
		t.Errorf("got %+v, want 480p/42", cfg)
	}
}

func TestWatcherReloadsOnAtomicReplace(t *testing.T) {
	received := make(chan testPresets, 1)
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(cfg testPresets) { received <- cfg })

	tmp := path + ".tmp"
	writeFile(t, tmp, "bitrate = 7\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	if cfg := waitPresets(t, received); cfg.Bitrate != 7 {
		t.Errorf("Bitrate = %d, want 7", cfg.Bitrate)
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	var count atomic.Int32
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(testPresets) { count.Add(1) })

	writeFile(t, filepath.Join(filepath.Dir(path), "other.toml"), "bitrate = 2\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("reloads = %d, want 0", got)
	}
}

func TestWatcherLoadsFreshEachTime(t *testing.T) {
	received := make(chan testPresets, 10)
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(cfg testPresets) { received <- cfg })

	writeFile(t, path, "bitrate = 10\n")
	waitPresets(t, received)

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "bitrate = 20\n")
	if cfg := waitPresets(t, received); cfg.Bitrate != 20 {
		t.Errorf("Bitrate = %d, want 20", cfg.Bitrate)
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	var count1, count2 atomic.Int32
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(testPresets) { count1.Add(1) })
	unsub := w.OnReload(func(testPresets) { count2.Add(1) })

	writeFile(t, path, "bitrate = 10\n")
	time.Sleep(250 * time.Millisecond)
	unsub()
	writeFile(t, path, "bitrate = 20\n")
	time.Sleep(250 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1 calls = %d, want 2", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2 calls = %d, want 1", got)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	errs := make(chan error, 1)
	received := make(chan testPresets, 1)
	w, path := startWatcher(t, "bitrate = 1\n", WithErrorHandler[testPresets](func(err error) { errs <- err }))
	w.OnReload(func(cfg testPresets) { received <- cfg })

	writeFile(t, path, "bitrate = [[[")

	select {
	case <-errs:
	case <-received:
		t.Fatal("handler called for invalid config")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	var count, last atomic.Int32
	path := filepath.Join(t.TempDir(), "presets.toml")
	writeFile(t, path, "bitrate = 0\n")

	w := NewConfigWatcher(path, loadTestPresets, newTestLogger(), WithDebounce[testPresets](200*time.Millisecond))
	w.OnReload(func(cfg testPresets) {
		count.Add(1)
		last.Store(int32(cfg.Bitrate))
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	for i := 1; i <= 5; i++ {
		writeFile(t, path, fmt.Sprintf("bitrate = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("reloads = %d, want 1", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("last bitrate = %d, want 5", got)
	}
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	writeFile(t, path, "name = \"720p\"\n")

	w := NewConfigWatcher(path, loadTestPresets, newTestLogger())
	var got testPresets
	w.OnReload(func(cfg testPresets) { got = cfg })

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.Name != "720p" {
		t.Errorf("Name = %q, want 720p", got.Name)
	}

	writeFile(t, path, "name = ")
	if err := w.Reload(); err == nil {
		t.Error("expected error for invalid file")
	}
}

func TestWatcherStop(t *testing.T) {
	var count atomic.Int32
	path := filepath.Join(t.TempDir(), "presets.toml")
	writeFile(t, path, "bitrate = 1\n")

	w := NewConfigWatcher(path, loadTestPresets, newTestLogger(), WithDebounce[testPresets](50*time.Millisecond))
	w.OnReload(func(testPresets) { count.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "bitrate = 99\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("reloads after stop = %d, want 0", got)
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	var count atomic.Int32
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(testPresets) { count.Add(1) })

	writeFile(t, path, "bitrate = 1\n")
	time.Sleep(250 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("reloads = %d, want 0", got)
	}
}

func TestWatcherSkipsRememberedWrite(t *testing.T) {
	received := make(chan testPresets, 2)
	w, path := startWatcher(t, "bitrate = 1\n")
	w.OnReload(func(cfg testPresets) { received <- cfg })

	own := []byte("bitrate = 2\n")
	w.Remember(own)
	writeFile(t, path, string(own))
	time.Sleep(250 * time.Millisecond)
	if len(received) != 0 {
		t.Fatalf("own write reloaded")
	}

	writeFile(t, path, "bitrate = 3\n")
	if cfg := waitPresets(t, received); cfg.Bitrate != 3 {
		t.Errorf("Bitrate = %d, want 3", cfg.Bitrate)
	}
}

func TestWatcherStopTwice(t *testing.T) {
	w, _ := startWatcher(t, "bitrate = 1\n")
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
