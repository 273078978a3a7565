// Package preview provides render sinks for the preview re-decode stage.
package preview

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chai2010/webp"

	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
)

// Chain calls every non-nil sink in order.
func Chain(sinks ...func(*media.Frame)) func(*media.Frame) {
	return func(f *media.Frame) {
		for _, sink := range sinks {
			if sink != nil {
				sink(f)
			}
		}
	}
}

// Stats counts rendered frames and logs the preview frame rate.
type Stats struct {
	logger   *slog.Logger
	interval time.Duration
	frames   atomic.Int64

	mu         sync.Mutex
	lastLog    time.Time
	lastFrames int64
	last       time.Duration
}

// NewStats creates a stats sink logging at most once per interval.
func NewStats(runID string, interval time.Duration) *Stats {
	return &Stats{
		logger:   logging.GetLogger("preview").With("run_id", runID),
		interval: interval,
		lastLog:  time.Now(),
	}
}

// Render implements the render sink.
func (s *Stats) Render(f *media.Frame) {
	n := s.frames.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = f.Timestamp
	if s.interval <= 0 {
		return
	}
	if elapsed := time.Since(s.lastLog); elapsed >= s.interval {
		fps := float64(n-s.lastFrames) / elapsed.Seconds()
		s.logger.Debug("Preview progress", "frames", n, "fps", fmt.Sprintf("%.1f", fps), "position", s.last)
		s.lastLog = time.Now()
		s.lastFrames = n
	}
}

// Frames returns the number of frames rendered.
func (s *Stats) Frames() int64 {
	return s.frames.Load()
}

// Position returns the timestamp of the last rendered frame.
func (s *Stats) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Snapshot keeps every Nth rendered frame as a WebP image.
type Snapshot struct {
	every   int
	quality float32
	path    string // optional file the latest image is written to
	logger  *slog.Logger

	mu     sync.RWMutex
	seen   int
	latest []byte
	at     time.Duration
}

// SnapshotOption configures a Snapshot.
type SnapshotOption func(*Snapshot)

// WithQuality sets the lossy WebP quality, 0 to 100.
func WithQuality(q float32) SnapshotOption {
	return func(s *Snapshot) { s.quality = q }
}

// WithFile also writes each snapshot to path.
func WithFile(path string) SnapshotOption {
	return func(s *Snapshot) { s.path = path }
}

// NewSnapshot creates a sink keeping every Nth frame; every <= 1 keeps all.
func NewSnapshot(every int, opts ...SnapshotOption) *Snapshot {
	s := &Snapshot{
		every:   max(every, 1),
		quality: 75,
		logger:  logging.GetLogger("preview"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Render implements the render sink. The frame is encoded before Render
// returns, so the caller may release it afterwards.
func (s *Snapshot) Render(f *media.Frame) {
	s.mu.Lock()
	s.seen++
	take := (s.seen-1)%s.every == 0
	s.mu.Unlock()
	if !take {
		return
	}

	img := f.Image()
	if img == nil {
		return
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: s.quality}); err != nil {
		s.logger.Warn("Failed to encode snapshot", "error", err)
		return
	}

	s.mu.Lock()
	s.latest = buf.Bytes()
	s.at = f.Timestamp
	s.mu.Unlock()

	if s.path != "" {
		if err := writeAtomic(s.path, buf.Bytes()); err != nil {
			s.logger.Warn("Failed to write snapshot", "path", s.path, "error", err)
		}
	}
}

// Latest returns the most recent snapshot and its frame timestamp. The
// image is nil before the first snapshot.
func (s *Snapshot) Latest() ([]byte, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.at
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
