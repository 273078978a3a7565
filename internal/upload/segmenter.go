package upload

import (
	"bytes"
	"context"
	"fmt"

	"github.com/smazurov/segmentcast/internal/media"
)

// DefaultThreshold is the accumulated size above which a segment is flushed.
const DefaultThreshold = 10_000_000

// DefaultSuffix is appended to every segment name.
const DefaultSuffix = "144p.webm"

// FlushFunc observes a completed upload.
type FlushFunc func(file File, index int)

// Segmenter buffers fragments and uploads them as numbered segments. It is
// owned by a single goroutine.
type Segmenter struct {
	stem      string
	suffix    string
	threshold int
	uploader  Uploader
	onFlush   FlushFunc

	fragments [][]byte
	size      int
	counter   int
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithSuffix overrides DefaultSuffix.
func WithSuffix(suffix string) Option {
	return func(s *Segmenter) {
		if suffix != "" {
			s.suffix = suffix
		}
	}
}

// OnFlush registers a callback invoked after each successful upload.
func OnFlush(fn FlushFunc) Option {
	return func(s *Segmenter) {
		s.onFlush = fn
	}
}

// NewSegmenter creates a segmenter naming segments "<stem>-<n>-<suffix>".
func NewSegmenter(stem string, uploader Uploader, opts ...Option) *Segmenter {
	s := &Segmenter{
		stem:      stem,
		suffix:    DefaultSuffix,
		threshold: DefaultThreshold,
		uploader:  uploader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write appends a fragment and flushes once the buffered size exceeds the threshold.
func (s *Segmenter) Write(ctx context.Context, fragment []byte) error {
	s.fragments = append(s.fragments, fragment)
	s.size += len(fragment)
	if s.size <= s.threshold {
		return nil
	}
	return s.flush(ctx)
}

// Close uploads whatever is still buffered.
func (s *Segmenter) Close(ctx context.Context) error {
	if s.size == 0 {
		return nil
	}
	return s.flush(ctx)
}

// Segments returns how many segment numbers have been used.
func (s *Segmenter) Segments() int {
	return s.counter
}

// Buffered returns the number of bytes waiting for the next flush.
func (s *Segmenter) Buffered() int {
	return s.size
}

// Filename returns the name of segment n.
func (s *Segmenter) Filename(n int) string {
	return fmt.Sprintf("%s-%d-%s", s.stem, n, s.suffix)
}

func (s *Segmenter) flush(ctx context.Context) error {
	s.counter++
	file := File{
		Filename: s.Filename(s.counter),
		Data:     bytes.Join(s.fragments, nil),
	}
	s.fragments = nil
	s.size = 0

	if err := s.uploader.UploadFile(ctx, file); err != nil {
		return media.NewError(media.KindUpload, "upload "+file.Filename, err)
	}
	if s.onFlush != nil {
		s.onFlush(file, s.counter)
	}
	return nil
}
