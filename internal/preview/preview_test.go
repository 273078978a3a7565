package preview

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chai2010/webp"

	"github.com/smazurov/segmentcast/internal/media"
)

func testFrame(t *testing.T, ts time.Duration) *media.Frame {
	t.Helper()
	f := media.NewFrame(64, 48, ts)
	data := f.Data()
	for i := range data {
		data[i] = byte(i)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestStatsCountsFrames(t *testing.T) {
	s := NewStats("run-1", 0)
	for i := range 5 {
		s.Render(testFrame(t, time.Duration(i)*time.Second))
	}
	if s.Frames() != 5 {
		t.Errorf("Frames() = %d, want 5", s.Frames())
	}
	if s.Position() != 4*time.Second {
		t.Errorf("Position() = %v, want 4s", s.Position())
	}
}

func TestSnapshotKeepsEveryNth(t *testing.T) {
	s := NewSnapshot(3)
	if img, _ := s.Latest(); img != nil {
		t.Fatal("snapshot before first frame")
	}

	for i := range 5 {
		s.Render(testFrame(t, time.Duration(i)*time.Second))
	}

	img, at := s.Latest()
	if at != 3*time.Second {
		t.Errorf("snapshot at %v, want 3s (frames 0 and 3 are kept)", at)
	}
	decoded, err := webp.Decode(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("snapshot is not WebP: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("snapshot size = %v, want 64x48", b)
	}
}

func TestSnapshotWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.webp")
	s := NewSnapshot(1, WithFile(path), WithQuality(50))
	s.Render(testFrame(t, 0))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := s.Latest()
	if !bytes.Equal(data, latest) {
		t.Error("file differs from latest snapshot")
	}
}

func TestChainCallsSinksInOrder(t *testing.T) {
	var order []int
	sink := Chain(
		func(*media.Frame) { order = append(order, 1) },
		nil,
		func(*media.Frame) { order = append(order, 2) },
	)
	sink(testFrame(t, 0))
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}
