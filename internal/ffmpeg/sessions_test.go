package ffmpeg

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/media"
)

// requireVP9 skips unless a local ffmpeg can encode VP9.
func requireVP9(t *testing.T) *Factory {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns ffmpeg")
	}
	binary, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	f := NewFactory(Options{Binary: binary})
	ok, err := f.IsSupported(context.Background(), media.EncoderConfig{
		Codec: media.DefaultCodec, Width: 64, Height: 48, Bitrate: 200_000, Framerate: 25,
	})
	if err != nil || !ok {
		t.Skip("ffmpeg has no VP9 encoder")
	}
	return f
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := requireVP9(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const frames = 10
	frameDur := 40 * time.Millisecond

	enc, _ := f.NewEncoder()
	defer enc.Close()
	if err := enc.Configure(ctx, media.EncoderConfig{
		Codec: media.DefaultCodec, Width: 64, Height: 48, Bitrate: 200_000, Framerate: 25,
	}); err != nil {
		t.Fatal(err)
	}

	outputs := make(chan []codec.EncodedOutput, 1)
	go func() {
		var got []codec.EncodedOutput
		for out := range enc.Output() {
			got = append(got, out)
		}
		outputs <- got
	}()

	for i := range frames {
		frame := media.NewFrame(64, 48, time.Duration(i)*frameDur)
		frame.Duration = frameDur
		err := enc.Encode(ctx, frame, codec.EncodeOptions{KeyFrame: i == 0})
		frame.Close()
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
	}
	if err := enc.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	_ = enc.Close()
	encoded := <-outputs

	if len(encoded) != frames {
		t.Fatalf("encoded %d chunks, want %d", len(encoded), frames)
	}
	first := encoded[0]
	if !first.Chunk.IsKey() || first.DecoderConfig == nil {
		t.Fatalf("first output = %s config %v, want key frame with config", first.Chunk, first.DecoderConfig)
	}
	if first.DecoderConfig.CodedWidth != 64 || first.DecoderConfig.CodedHeight != 48 {
		t.Errorf("decoder config = %+v", first.DecoderConfig)
	}
	for i, out := range encoded {
		if out.Chunk.Timestamp != time.Duration(i)*frameDur {
			t.Errorf("chunk %d timestamp = %v", i, out.Chunk.Timestamp)
		}
	}

	dec, _ := f.NewDecoder()
	defer dec.Close()
	if err := dec.Configure(ctx, *first.DecoderConfig); err != nil {
		t.Fatal(err)
	}

	decoded := make(chan int, 1)
	go func() {
		n := 0
		for frame := range dec.Frames() {
			if frame.Width == 64 && frame.Height == 48 {
				n++
			}
			frame.Close()
		}
		decoded <- n
	}()

	for _, out := range encoded {
		if err := dec.Decode(ctx, out.Chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := dec.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	_ = dec.Close()

	if n := <-decoded; n != frames {
		t.Errorf("decoded %d frames, want %d", n, frames)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.Registry().Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if live := f.Registry().Len(); live != 0 {
		t.Errorf("%d processes still registered", live)
	}
}

func TestCloseUnblocksEncoder(t *testing.T) {
	f := requireVP9(t)
	ctx := context.Background()

	enc, _ := f.NewEncoder()
	if err := enc.Configure(ctx, media.EncoderConfig{
		Codec: media.DefaultCodec, Width: 64, Height: 48, Bitrate: 200_000, Framerate: 25,
	}); err != nil {
		t.Fatal(err)
	}

	// nobody reads Output, so ffmpeg eventually stops accepting input
	errs := make(chan error, 1)
	go func() {
		for i := 0; ; i++ {
			frame := media.NewFrame(64, 48, time.Duration(i)*time.Millisecond)
			err := enc.Encode(ctx, frame, codec.EncodeOptions{})
			frame.Close()
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	time.Sleep(500 * time.Millisecond)
	_ = enc.Close()

	select {
	case <-errs:
	case <-time.After(10 * time.Second):
		t.Fatal("Encode still blocked after Close")
	}
}
