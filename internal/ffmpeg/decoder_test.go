package ffmpeg

import (
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/segmentcast/internal/process"
)

func TestReadFramesReportsShortFrame(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}

	d := newDecoder(NewFactory(Options{Binary: "ffmpeg-test"}), "short")
	pipe := process.NewPipe("short", []string{"sh", "-c", "printf abcde"}, d.logger)
	if err := pipe.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer pipe.Kill()

	done := make(chan struct{})
	go d.readFrames(pipe, &stampQueue{}, 4, 4, done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop")
	}

	// 4x4 yuv420p is 24 bytes
	if d.readErr == nil || !strings.Contains(d.readErr.Error(), "short frame (5 of 24 bytes)") {
		t.Errorf("readErr = %v", d.readErr)
	}
	if d.decoded != 0 {
		t.Errorf("decoded = %d, want 0", d.decoded)
	}
}

func TestReadFramesStopsCleanlyAtEOF(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}

	d := newDecoder(NewFactory(Options{Binary: "ffmpeg-test"}), "empty")
	pipe := process.NewPipe("empty", []string{"sh", "-c", "exit 0"}, d.logger)
	if err := pipe.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer pipe.Kill()

	done := make(chan struct{})
	go d.readFrames(pipe, &stampQueue{}, 4, 4, done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop")
	}
	if d.readErr != nil {
		t.Errorf("readErr = %v, want nil at a frame boundary", d.readErr)
	}
}
