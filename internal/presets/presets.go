// Package presets stores named encode profiles in a TOML file.
package presets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/segmentcast/internal/config"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/media"
)

// DefaultPath is used when no presets file is configured.
const DefaultPath = "presets.toml"

// ErrNotFound is returned for unknown preset names.
var ErrNotFound = errors.New("preset not found")

// Preset is a named encode profile.
type Preset struct {
	Name                 string                     `toml:"-" json:"name,omitempty" example:"240p" doc:"Preset name, taken from the path on PUT"`
	Description          string                     `toml:"description,omitempty" json:"description,omitempty" doc:"Human readable description"`
	Codec                string                     `toml:"codec" json:"codec" example:"vp09.00.10.08" doc:"WebCodecs codec string"`
	Width                int                        `toml:"width" json:"width" example:"320" doc:"Output width"`
	Height               int                        `toml:"height" json:"height" example:"240" doc:"Output height"`
	Bitrate              int64                      `toml:"bitrate" json:"bitrate" example:"10000000" doc:"Target bitrate in bits/s"`
	Framerate            float64                    `toml:"framerate,omitempty" json:"framerate,omitempty" example:"30" doc:"Output framerate"`
	HardwareAcceleration media.HardwareAcceleration `toml:"hardware_acceleration,omitempty" json:"hardware_acceleration,omitempty" enum:"no-preference,prefer-hardware,prefer-software" doc:"Codec implementation preference"`
}

// EncoderConfig returns the encode configuration with defaults applied.
func (p Preset) EncoderConfig() media.EncoderConfig {
	return media.EncoderConfig{
		Codec:                p.Codec,
		Width:                p.Width,
		Height:               p.Height,
		Bitrate:              p.Bitrate,
		Framerate:            p.Framerate,
		HardwareAcceleration: p.HardwareAcceleration,
	}.WithDefaults()
}

// Validate checks the fields a codec factory would reject.
func (p Preset) Validate() error {
	if p.Name == "" || strings.ContainsAny(p.Name, "/\\ ") {
		return fmt.Errorf("invalid preset name %q", p.Name)
	}
	cfg := p.EncoderConfig()
	if family, ok := ffmpeg.CodecFamily(cfg.Codec); !ok || family != ffmpeg.FamilyVP9 {
		return fmt.Errorf("preset %s: codec %q is not a VP9 codec string", p.Name, cfg.Codec)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return fmt.Errorf("preset %s: dimensions %dx%d must be positive and even", p.Name, cfg.Width, cfg.Height)
	}
	if cfg.Bitrate <= 0 {
		return fmt.Errorf("preset %s: bitrate must be positive", p.Name)
	}
	switch cfg.HardwareAcceleration {
	case media.NoPreference, media.PreferHardware, media.PreferSoftware:
	default:
		return fmt.Errorf("preset %s: unknown hardware acceleration %q", p.Name, cfg.HardwareAcceleration)
	}
	return nil
}

// File is the on-disk layout of the presets file.
type File struct {
	Version int               `toml:"version"`
	Presets map[string]Preset `toml:"presets"`
}

// Builtins returns one preset per built-in resolution.
func Builtins() map[string]Preset {
	out := make(map[string]Preset, len(media.Resolutions))
	for _, res := range media.Resolutions {
		cfg := media.DefaultEncoderConfig(res)
		out[res.Name] = Preset{
			Name:                 res.Name,
			Description:          fmt.Sprintf("VP9 %dx%d", res.Width, res.Height),
			Codec:                cfg.Codec,
			Width:                cfg.Width,
			Height:               cfg.Height,
			Bitrate:              cfg.Bitrate,
			Framerate:            cfg.Framerate,
			HardwareAcceleration: cfg.HardwareAcceleration,
		}
	}
	return out
}

// LoadFile parses and validates a presets file. Names come from the table
// keys. A missing file yields the built-ins.
func LoadFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Builtins(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	out := make(map[string]Preset, len(f.Presets))
	for name, p := range f.Presets {
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// EventPublisher publishes preset events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Store holds presets in memory and persists them to a TOML file.
type Store struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	presets map[string]Preset
	watcher *config.Watcher[map[string]Preset]
}

// NewStore creates a store backed by path, seeded with the built-ins.
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		logger:  logger,
		presets: Builtins(),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory presets with the file contents.
func (s *Store) Load() error {
	loaded, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.replace(loaded)
	return nil
}

// Save writes all presets to the backing file.
func (s *Store) Save() error {
	s.mu.RLock()
	f := File{Version: 1, Presets: make(map[string]Preset, len(s.presets))}
	for name, p := range s.presets {
		f.Presets[name] = p
	}
	s.mu.RUnlock()

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create presets directory: %w", err)
	}

	s.mu.RLock()
	if s.watcher != nil {
		s.watcher.Remember(data)
	}
	s.mu.RUnlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write presets: %w", err)
	}
	return nil
}

// Get returns the named preset.
func (s *Store) Get(name string) (Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// List returns all presets ordered by output area, then name.
func (s *Store) List() []Preset {
	s.mu.RLock()
	out := make([]Preset, 0, len(s.presets))
	for _, p := range s.presets {
		out = append(out, p)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Preset) int {
		if d := a.Width*a.Height - b.Width*b.Height; d != 0 {
			return d
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Put validates, stores and persists a preset.
func (s *Store) Put(p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.presets[p.Name] = p
	s.mu.Unlock()
	return s.Save()
}

// Delete removes and persists the removal of a preset.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	if _, ok := s.presets[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.presets, name)
	s.mu.Unlock()
	return s.Save()
}

// Watch reloads the store whenever the backing file changes and publishes
// a PresetsReloadedEvent. bus may be nil.
func (s *Store) Watch(bus EventPublisher, opts ...config.WatcherOption[map[string]Preset]) error {
	w := config.NewConfigWatcher(s.path, LoadFile, s.logger, opts...)
	w.OnReload(func(loaded map[string]Preset) {
		s.replace(loaded)
		s.logger.Info("Presets reloaded", "path", s.path, "count", len(loaded))
		if bus != nil {
			bus.Publish(events.PresetsReloadedEvent{
				Count:     len(loaded),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to watch presets: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

// Close stops watching the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

func (s *Store) replace(presets map[string]Preset) {
	s.mu.Lock()
	s.presets = presets
	s.mu.Unlock()
}
