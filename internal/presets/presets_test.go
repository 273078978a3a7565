package presets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/segmentcast/internal/config"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuiltins(t *testing.T) {
	b := Builtins()
	for _, name := range []string{"240p", "480p", "720p"} {
		p, ok := b[name]
		if !ok {
			t.Fatalf("missing builtin %s", name)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("builtin %s invalid: %v", name, err)
		}
	}
	if p := b["240p"]; p.Width != 320 || p.Height != 240 || p.Bitrate != media.DefaultBitrate {
		t.Errorf("240p = %+v", p)
	}
}

func TestPresetValidate(t *testing.T) {
	base := Preset{Name: "x", Codec: "vp09.00.10.08", Width: 320, Height: 240, Bitrate: 1000}

	tests := []struct {
		name    string
		mutate  func(p *Preset)
		wantErr bool
	}{
		{"valid", func(*Preset) {}, false},
		{"defaults fill codec", func(p *Preset) { p.Codec = "" }, false},
		{"h264 rejected", func(p *Preset) { p.Codec = "avc1.42001f" }, true},
		{"unknown codec", func(p *Preset) { p.Codec = "av01.0.04M.08" }, true},
		{"odd width", func(p *Preset) { p.Width = 321 }, true},
		{"zero height", func(p *Preset) { p.Height = 0 }, true},
		{"negative bitrate", func(p *Preset) { p.Bitrate = -1 }, true},
		{"bad acceleration", func(p *Preset) { p.HardwareAcceleration = "gpu" }, true},
		{"empty name", func(p *Preset) { p.Name = "" }, true},
		{"path in name", func(p *Preset) { p.Name = "../x" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreMissingFileUsesBuiltins(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "presets.toml"), testLogger())
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Name != "240p" || list[2].Name != "720p" {
		t.Errorf("order = %s..%s, want 240p..720p", list[0].Name, list[2].Name)
	}
}

func TestStorePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "presets.toml")
	s := NewStore(path, testLogger())

	custom := Preset{Name: "tiny", Codec: "vp9", Width: 160, Height: 120, Bitrate: 250_000, Framerate: 15}
	if err := s.Put(custom); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete("720p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reloaded := NewStore(path, testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := reloaded.Get("tiny")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != custom {
		t.Errorf("got %+v, want %+v", got, custom)
	}
	if _, err := reloaded.Get("720p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("720p err = %v, want ErrNotFound", err)
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "presets.toml"), testLogger())
	if err := s.Put(Preset{Name: "bad", Width: 3, Height: 2, Bitrate: 1}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("invalid preset should not be written")
	}
	if err := s.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestLoadFileRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	content := "version = 1\n[presets.odd]\ncodec = \"vp9\"\nwidth = 301\nheight = 200\nbitrate = 100\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for odd width")
	}
}

func TestPresetEncoderConfigDefaults(t *testing.T) {
	cfg := Preset{Name: "x", Width: 320, Height: 240}.EncoderConfig()
	if cfg.Codec != media.DefaultCodec || cfg.Bitrate != media.DefaultBitrate || cfg.Framerate != media.DefaultFramerate {
		t.Errorf("cfg = %+v", cfg)
	}
}

type recordingBus struct {
	mu  sync.Mutex
	evs []events.Event
}

func (b *recordingBus) Publish(ev events.Event) {
	b.mu.Lock()
	b.evs = append(b.evs, ev)
	b.mu.Unlock()
}

func (b *recordingBus) reloads() []events.PresetsReloadedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.PresetsReloadedEvent
	for _, ev := range b.evs {
		if e, ok := ev.(events.PresetsReloadedEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestStoreWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	s := NewStore(path, testLogger())
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	if err := s.Watch(bus, config.WithDebounce[map[string]Preset](50*time.Millisecond)); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	time.Sleep(100 * time.Millisecond)

	content := "version = 1\n[presets.only]\ncodec = \"vp9\"\nwidth = 640\nheight = 360\nbitrate = 800000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.reloads()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	reloads := bus.reloads()
	if len(reloads) == 0 {
		t.Fatal("no PresetsReloadedEvent published")
	}
	if reloads[len(reloads)-1].Count != 1 {
		t.Errorf("Count = %d, want 1", reloads[len(reloads)-1].Count)
	}
	if _, err := s.Get("only"); err != nil {
		t.Errorf("Get(only): %v", err)
	}
}

type stubChecker map[string]error

func (c stubChecker) IsSupported(_ context.Context, cfg media.EncoderConfig) (bool, error) {
	err, listed := c[cfg.Codec]
	if !listed {
		return true, nil
	}
	return false, err
}

func TestCheckPresets(t *testing.T) {
	list := []Preset{
		{Name: "ok", Codec: "vp09.00.10.08", Width: 320, Height: 240, Bitrate: 1},
		{Name: "rejected", Codec: "vp09.00.41.08", Width: 320, Height: 240, Bitrate: 1},
		{Name: "broken", Codec: "vp09.02.10.10", Width: 320, Height: 240, Bitrate: 1},
	}
	checker := stubChecker{"vp09.00.41.08": nil, "vp09.02.10.10": errors.New("ffmpeg missing")}

	got := CheckPresets(context.Background(), checker, list)
	if !got["ok"].Supported {
		t.Error("ok should be supported")
	}
	if got["rejected"].Supported || got["rejected"].Error != "" {
		t.Errorf("rejected = %+v", got["rejected"])
	}
	if got["broken"].Supported || got["broken"].Error != "ffmpeg missing" {
		t.Errorf("broken = %+v", got["broken"])
	}
}

func TestValidateEncodersAndRoundTrip(t *testing.T) {
	check := func(_ context.Context, _ string, spec ffmpeg.EncoderSpec) error {
		if spec.Hardware {
			return errors.New("no device")
		}
		return nil
	}
	var seen int
	v := ValidateEncoders(context.Background(), "ffmpeg", ffmpeg.Encoders, check, func(ffmpeg.EncoderSpec, error) { seen++ })
	if seen != len(ffmpeg.Encoders) {
		t.Errorf("callbacks = %d, want %d", seen, len(ffmpeg.Encoders))
	}
	if len(v.Working) != 1 || v.Working[0] != "libvpx-vp9" {
		t.Errorf("Working = %v", v.Working)
	}
	if len(v.Failed) != len(ffmpeg.Encoders)-1 {
		t.Errorf("Failed = %v", v.Failed)
	}

	path := filepath.Join(t.TempDir(), DefaultValidationPath)
	in := &ValidationResults{
		Timestamp:      "2026-01-02T03:04:05Z",
		FFmpegVersion:  "7.1",
		TestDuration:   ffmpeg.ValidationDuration,
		TestResolution: ffmpeg.ValidationResolution,
		VP9:            v,
		Presets:        map[string]PresetSupport{"240p": {Supported: true}},
	}
	if err := SaveValidation(path, in); err != nil {
		t.Fatalf("SaveValidation: %v", err)
	}
	out, err := LoadValidation(path)
	if err != nil {
		t.Fatalf("LoadValidation: %v", err)
	}
	if out.FFmpegVersion != "7.1" || len(out.VP9.Working) != 1 || !out.Presets["240p"].Supported {
		t.Errorf("loaded = %+v", out)
	}
}

func TestStoreOwnSaveDoesNotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	s := NewStore(path, testLogger())
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	if err := s.Watch(bus, config.WithDebounce[map[string]Preset](50*time.Millisecond)); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	time.Sleep(100 * time.Millisecond)

	p := Preset{Name: "360p", Codec: "vp09.00.10.08", Width: 640, Height: 360, Bitrate: 800_000}
	if err := s.Put(p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := len(bus.reloads()); n != 0 {
		t.Errorf("own save triggered %d reloads", n)
	}
	if _, err := s.Get("360p"); err != nil {
		t.Errorf("Get after Put: %v", err)
	}
}
