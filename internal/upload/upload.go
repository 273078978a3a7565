// Package upload accumulates muxed WebM fragments into size-bounded segments
// and hands each segment to an Uploader.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/segmentcast/internal/logging"
)

// File is one named segment.
type File struct {
	Filename string
	Data     []byte
}

// Uploader delivers a segment to its destination.
type Uploader interface {
	UploadFile(ctx context.Context, file File) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, file File) error

// UploadFile calls f.
func (f UploaderFunc) UploadFile(ctx context.Context, file File) error {
	return f(ctx, file)
}

// Dir writes segments into a local directory.
type Dir struct {
	Path   string
	logger *slog.Logger
}

// NewDir creates a directory uploader, creating the directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Dir{Path: path, logger: logging.GetLogger("upload")}, nil
}

// UploadFile writes the segment atomically via a temporary file.
func (d *Dir) UploadFile(ctx context.Context, file File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := SafeFilename(file.Filename)
	if err != nil {
		return err
	}

	target := filepath.Join(d.Path, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, file.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize segment: %w", err)
	}

	d.logger.Debug("Segment written", "path", target, "bytes", len(file.Data))
	return nil
}

// SafeFilename rejects names that would escape the target directory.
func SafeFilename(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.New("invalid segment filename")
	}
	return name, nil
}
