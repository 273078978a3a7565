// Package mux writes VP9 chunks into a streaming WebM container.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
)

// CodecVP9 is the Matroska codec ID of the single video track.
const CodecVP9 = "V_VP9"

// ErrClosed is returned when writing to a closed muxer.
var ErrClosed = errors.New("muxer closed")

// WebM muxes encoded chunks into a live WebM byte stream (unknown-size
// segment and clusters). Each container write is kept as its own fragment
// until the owner collects it with TakeFragments.
type WebM struct {
	out    *fragmentWriter
	track  webm.BlockWriteCloser
	logger *slog.Logger

	mu     sync.Mutex
	fatal  error
	closed bool
	blocks int
}

// NewWebM creates a muxer with one video track sized from cfg.
func NewWebM(cfg media.EncoderConfig) (*WebM, error) {
	m := &WebM{
		out:    newFragmentWriter(),
		logger: logging.GetLogger("mux"),
	}

	defaultDuration := uint64(0)
	if cfg.Framerate > 0 {
		defaultDuration = uint64(1e9 / cfg.Framerate)
	}

	writers, err := webm.NewSimpleBlockWriter(m.out, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         CodecVP9,
			TrackType:       1, // video
			DefaultDuration: defaultDuration,
			Video: &webm.Video{
				PixelWidth:  uint64(cfg.Width),
				PixelHeight: uint64(cfg.Height),
			},
		},
	}, mkvcore.WithOnFatalHandler(func(err error) {
		m.logger.Warn("WebM writer failed", "error", err)
		m.mu.Lock()
		m.fatal = err
		m.mu.Unlock()
		m.out.abort()
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create WebM writer: %w", err)
	}

	m.track = writers[0]
	return m, nil
}

// Write adds one chunk as a SimpleBlock with a millisecond timecode.
func (m *WebM) Write(chunk *media.Chunk) error {
	if err := m.err(); err != nil {
		return err
	}
	if _, err := m.track.Write(chunk.IsKey(), chunk.Timestamp.Milliseconds(), chunk.Data); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	m.blocks++
	return nil
}

// TakeFragments returns the container bytes written since the last call,
// one slice per container write, in write order.
func (m *WebM) TakeFragments() [][]byte {
	return m.out.take()
}

// Blocks returns the number of chunks written.
func (m *WebM) Blocks() int {
	return m.blocks
}

// Close finalizes the container and waits until the writer has flushed.
// Fragments produced by finalization are available from TakeFragments.
func (m *WebM) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.track.Close(); err != nil {
		return fmt.Errorf("failed to close track: %w", err)
	}

	select {
	case <-m.out.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

func (m *WebM) err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal != nil {
		return m.fatal
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}

// fragmentWriter collects container writes. The container writer closes it
// once every track is closed.
type fragmentWriter struct {
	mu      sync.Mutex
	pending [][]byte
	aborted bool
	done    chan struct{}
	once    sync.Once
}

func newFragmentWriter() *fragmentWriter {
	return &fragmentWriter{done: make(chan struct{})}
}

func (w *fragmentWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aborted {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	w.pending = append(w.pending, append([]byte(nil), p...))
	return len(p), nil
}

func (w *fragmentWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (w *fragmentWriter) take() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = nil
	return out
}

func (w *fragmentWriter) abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
	_ = w.Close()
}
