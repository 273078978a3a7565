package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smazurov/segmentcast/internal/media"
)

type recordingUploader struct {
	files []File
	fail  map[int]error
}

func (r *recordingUploader) UploadFile(_ context.Context, file File) error {
	n := len(r.files) + 1
	if err := r.fail[n]; err != nil {
		return err
	}
	r.files = append(r.files, file)
	return nil
}

func TestSegmenterSplitsAtThreshold(t *testing.T) {
	up := &recordingUploader{}
	seg := NewSegmenter("clip", up)
	ctx := context.Background()

	const mib = 1 << 20
	for i := 0; i < 25; i++ {
		if err := seg.Write(ctx, bytes.Repeat([]byte{byte(i)}, mib)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := seg.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(up.files) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(up.files))
	}
	wantSizes := []int{10 * mib, 10 * mib, 5 * mib}
	for i, f := range up.files {
		wantName := fmt.Sprintf("clip-%d-144p.webm", i+1)
		if f.Filename != wantName {
			t.Errorf("upload %d named %q, want %q", i, f.Filename, wantName)
		}
		if len(f.Data) != wantSizes[i] {
			t.Errorf("upload %d has %d bytes, want %d", i, len(f.Data), wantSizes[i])
		}
	}
	if seg.Segments() != 3 {
		t.Errorf("Segments() = %d", seg.Segments())
	}
}

func TestSegmenterFlushCount(t *testing.T) {
	tests := []struct {
		name      string
		fragments []int
		threshold int
		want      int
	}{
		{"empty stream", nil, 10, 0},
		{"exactly threshold stays buffered", []int{10}, 10, 1},
		{"one over threshold", []int{11}, 10, 1},
		{"remainder flushed at end", []int{6, 6, 3}, 10, 2},
		{"every fragment over threshold", []int{20, 20, 20}, 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &recordingUploader{}
			seg := NewSegmenter("s", up, WithThreshold(tt.threshold))
			total := 0
			for _, n := range tt.fragments {
				total += n
				if err := seg.Write(context.Background(), make([]byte, n)); err != nil {
					t.Fatal(err)
				}
			}
			if err := seg.Close(context.Background()); err != nil {
				t.Fatal(err)
			}
			if len(up.files) != tt.want {
				t.Errorf("got %d uploads, want %d", len(up.files), tt.want)
			}
			uploaded := 0
			for _, f := range up.files {
				uploaded += len(f.Data)
			}
			if uploaded != total {
				t.Errorf("uploaded %d bytes, want %d", uploaded, total)
			}
		})
	}
}

func TestSegmenterPreservesFragmentOrder(t *testing.T) {
	up := &recordingUploader{}
	seg := NewSegmenter("s", up, WithThreshold(4))
	for _, frag := range []string{"ab", "cd", "e"} {
		if err := seg.Write(context.Background(), []byte(frag)); err != nil {
			t.Fatal(err)
		}
	}
	if err := seg.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(up.files[0].Data); got != "abcde" {
		t.Errorf("segment = %q, want %q", got, "abcde")
	}
}

func TestSegmenterUploadFailureIsTerminal(t *testing.T) {
	boom := errors.New("server down")
	up := &recordingUploader{fail: map[int]error{2: boom}}
	var flushed []int
	seg := NewSegmenter("s", up, WithThreshold(1), OnFlush(func(_ File, n int) {
		flushed = append(flushed, n)
	}))

	if err := seg.Write(context.Background(), []byte("aa")); err != nil {
		t.Fatal(err)
	}
	err := seg.Write(context.Background(), []byte("bb"))
	if !errors.Is(err, media.ErrUpload) || !errors.Is(err, boom) {
		t.Fatalf("expected upload error wrapping cause, got %v", err)
	}
	if seg.Segments() != 2 {
		t.Errorf("failed segment number must be consumed, counter = %d", seg.Segments())
	}
	if seg.Filename(seg.Segments()+1) != "s-3-144p.webm" {
		t.Errorf("next name = %q", seg.Filename(seg.Segments()+1))
	}
	if len(flushed) != 1 || flushed[0] != 1 {
		t.Errorf("OnFlush called for %v, want [1]", flushed)
	}
}
