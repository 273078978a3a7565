package media

import (
	"errors"
	"fmt"
	"testing"
)

func TestFrameReleaseOnce(t *testing.T) {
	before := LiveFrames()
	f := NewFrame(4, 4, 0)
	if got := len(f.Data()); got != 24 {
		t.Fatalf("expected 24 bytes for 4x4 yuv420p, got %d", got)
	}
	if LiveFrames() != before+1 {
		t.Fatalf("live frames not incremented")
	}

	if err := f.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := f.Release(); !errors.Is(err, ErrFrameReleased) {
		t.Fatalf("second release should report ErrFrameReleased, got %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close after release should be a no-op, got %v", err)
	}
	if f.Data() != nil {
		t.Error("data should be nil after release")
	}
	if LiveFrames() != before {
		t.Errorf("live frames = %d, want %d", LiveFrames(), before)
	}
}

func TestFrameImage(t *testing.T) {
	f := NewFrame(6, 4, 0)
	defer f.Close()

	img := f.Image()
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 4 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if len(img.Cb) != 6 || len(img.Cr) != 6 {
		t.Errorf("chroma planes = %d/%d, want 6/6", len(img.Cb), len(img.Cr))
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("stage: %w", NewError(KindUpload, "upload clip-1-144p.webm", cause))

	if !errors.Is(err, ErrUpload) {
		t.Error("expected errors.Is to match ErrUpload")
	}
	if errors.Is(err, ErrDecode) {
		t.Error("upload error must not match ErrDecode")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable")
	}
	if kind, ok := KindOf(err); !ok || kind != KindUpload {
		t.Errorf("KindOf = %q, %v", kind, ok)
	}

	wrapped := WrapKind(KindDecode, "decode", err)
	if kind, _ := KindOf(wrapped); kind != KindUpload {
		t.Errorf("WrapKind must keep the existing kind, got %q", kind)
	}
	if WrapKind(KindDecode, "decode", nil) != nil {
		t.Error("WrapKind(nil) should be nil")
	}
}

func TestEncoderConfigDefaults(t *testing.T) {
	res, err := LookupResolution("240p")
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultEncoderConfig(res)
	if cfg.Width != 320 || cfg.Height != 240 || cfg.Bitrate != 10_000_000 || cfg.Codec != "vp09.00.10.08" {
		t.Errorf("unexpected default config %+v", cfg)
	}
	if cfg.HardwareAcceleration != PreferSoftware {
		t.Errorf("hardware preference = %q", cfg.HardwareAcceleration)
	}

	if _, err := LookupResolution("4k"); err == nil {
		t.Error("expected error for unknown resolution")
	}

	filled := EncoderConfig{Width: 640, Height: 480}.WithDefaults()
	if filled.Codec != DefaultCodec || filled.Framerate != DefaultFramerate {
		t.Errorf("WithDefaults did not fill: %+v", filled)
	}
}
