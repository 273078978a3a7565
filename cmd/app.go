// Package cmd holds the segmentcast subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/pipeline"
	"github.com/smazurov/segmentcast/internal/presets"
	"github.com/smazurov/segmentcast/internal/upload"
)

// App is the set of services wired by main from the parsed options.
type App struct {
	Logger   *slog.Logger
	Bus      *events.Bus
	Codecs   *ffmpeg.Factory
	Runner   *pipeline.Runner
	Presets  *presets.Store
	Uploader upload.Uploader

	ValidationFile string
	SnapshotEvery  int
}

// Provider returns the App once options have been parsed.
type Provider func() *App

func (p Provider) get() (*App, error) {
	app := p()
	if app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

// resolveEncode picks the encode configuration for a preset name.
func (a *App) resolveEncode(name string) (media.EncoderConfig, error) {
	p, err := a.Presets.Get(name)
	if err != nil {
		return media.EncoderConfig{}, fmt.Errorf("preset %q: %w", name, err)
	}
	return p.EncoderConfig(), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
