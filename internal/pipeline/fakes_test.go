package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/demux"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/upload"
)

var errInjected = errors.New("injected failure")

const frameDuration = 40 * time.Millisecond

// fakeDecoder emits one frame per chunk at the configured size. With
// swapPairs it delivers every two frames in reverse, as a decoder reordering
// B-frames would.
type fakeDecoder struct {
	frames    chan *media.Frame
	closeOnce sync.Once
	failAt    int // 1-based chunk that fails; 0 never
	swapPairs bool
	held      *media.Frame

	cfg        *media.DecoderConfig
	configures int
	decoded    int
	closed     bool
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{frames: make(chan *media.Frame)}
}

func (d *fakeDecoder) Configure(_ context.Context, cfg media.DecoderConfig) error {
	if d.closed {
		return codec.ErrClosed
	}
	d.cfg = &cfg
	d.configures++
	return nil
}

func (d *fakeDecoder) Decode(ctx context.Context, chunk *media.Chunk) error {
	if d.closed {
		return codec.ErrClosed
	}
	if d.cfg == nil {
		return codec.ErrNotConfigured
	}
	d.decoded++
	if d.decoded == d.failAt {
		return errInjected
	}
	frame := media.NewFrame(d.cfg.CodedWidth, d.cfg.CodedHeight, chunk.Timestamp)
	frame.Duration = chunk.Duration
	if !d.swapPairs {
		return d.emit(ctx, frame)
	}
	if d.held == nil {
		d.held = frame
		return nil
	}
	held := d.held
	d.held = nil
	if err := d.emit(ctx, frame); err != nil {
		held.Close()
		return err
	}
	return d.emit(ctx, held)
}

func (d *fakeDecoder) emit(ctx context.Context, frame *media.Frame) error {
	select {
	case d.frames <- frame:
		return nil
	case <-ctx.Done():
		frame.Close()
		return ctx.Err()
	}
}

func (d *fakeDecoder) Frames() <-chan *media.Frame { return d.frames }

func (d *fakeDecoder) Flush(ctx context.Context) error {
	if d.held == nil {
		return nil
	}
	held := d.held
	d.held = nil
	return d.emit(ctx, held)
}

func (d *fakeDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.closed = true
		if d.held != nil {
			d.held.Close()
			d.held = nil
		}
		close(d.frames)
	})
	return nil
}

// fakeEncoder emits one chunk of chunkSize bytes per frame.
type fakeEncoder struct {
	output    chan codec.EncodedOutput
	closeOnce sync.Once
	chunkSize int
	keyEvery  int
	configAt  map[int]bool // 0-based frames that carry decoder config
	failAt    int          // 1-based frame that fails; 0 never

	cfg     *media.EncoderConfig
	encoded int
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		output:    make(chan codec.EncodedOutput),
		chunkSize: 1000,
		keyEvery:  30,
		configAt:  map[int]bool{0: true},
	}
}

func (e *fakeEncoder) Configure(_ context.Context, cfg media.EncoderConfig) error {
	e.cfg = &cfg
	return nil
}

func (e *fakeEncoder) Encode(ctx context.Context, frame *media.Frame, _ codec.EncodeOptions) error {
	if e.cfg == nil {
		return codec.ErrNotConfigured
	}
	if frame.Released() {
		return media.ErrFrameReleased
	}
	n := e.encoded
	e.encoded++
	if e.encoded == e.failAt {
		return errInjected
	}

	chunk := &media.Chunk{
		Type:      media.DeltaFrame,
		Timestamp: frame.Timestamp,
		Duration:  frame.Duration,
		Data:      make([]byte, e.chunkSize),
	}
	if n%e.keyEvery == 0 {
		chunk.Type = media.KeyFrame
	}
	out := codec.EncodedOutput{Chunk: chunk}
	if e.configAt[n] {
		out.DecoderConfig = &media.DecoderConfig{
			Codec:       e.cfg.Codec,
			CodedWidth:  e.cfg.Width,
			CodedHeight: e.cfg.Height,
		}
	}
	select {
	case e.output <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEncoder) Output() <-chan codec.EncodedOutput { return e.output }

func (e *fakeEncoder) Flush(context.Context) error { return nil }

func (e *fakeEncoder) Close() error {
	e.closeOnce.Do(func() { close(e.output) })
	return nil
}

type fakeFactory struct {
	unsupported bool
	supportErr  error

	mu       sync.Mutex
	decoders []*fakeDecoder
	encoders []*fakeEncoder

	// applied to sessions as they are created
	decoderFailAt int
	encoder       func(*fakeEncoder)
}

func (f *fakeFactory) NewDecoder() (codec.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := newFakeDecoder()
	if len(f.decoders) == 0 {
		d.failAt = f.decoderFailAt
	}
	f.decoders = append(f.decoders, d)
	return d, nil
}

func (f *fakeFactory) NewEncoder() (codec.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := newFakeEncoder()
	if f.encoder != nil {
		f.encoder(e)
	}
	f.encoders = append(f.encoders, e)
	return e, nil
}

func (f *fakeFactory) IsSupported(context.Context, media.EncoderConfig) (bool, error) {
	return !f.unsupported, f.supportErr
}

func (f *fakeFactory) sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decoders) + len(f.encoders)
}

// fakeDemuxer emits a 320x240 avc1 config and n chunks, keys every 30.
type fakeDemuxer struct {
	chunks int
	err    error
}

func (d *fakeDemuxer) Run(_ context.Context, _ io.ReadSeeker, h demux.Handler) error {
	if d.err != nil {
		return d.err
	}
	if err := h.OnConfig(media.DecoderConfig{Codec: "avc1.42c01e", CodedWidth: 320, CodedHeight: 240}); err != nil {
		return err
	}
	for i := range d.chunks {
		chunk := &media.Chunk{
			Type:      media.DeltaFrame,
			Timestamp: time.Duration(i) * frameDuration,
			Duration:  frameDuration,
			Data:      []byte{0, 0, 0, 1, 0x65},
		}
		if i%30 == 0 {
			chunk.Type = media.KeyFrame
		}
		if err := h.OnChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// recordingUploader keeps every uploaded file.
type recordingUploader struct {
	mu     sync.Mutex
	files  []upload.File
	failAt int // 1-based upload that fails; 0 never
	calls  int
}

func (u *recordingUploader) UploadFile(_ context.Context, file upload.File) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.calls == u.failAt {
		return errInjected
	}
	u.files = append(u.files, file)
	return nil
}

func (u *recordingUploader) names() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, f := range u.files {
		out = append(out, f.Filename)
	}
	return out
}

// namedReader is an in-memory Source.
type namedReader struct {
	*strings.Reader
	name string
}

func (r namedReader) Name() string { return r.name }

func source(name string) Source {
	return namedReader{Reader: strings.NewReader(""), name: name}
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newSegmenter(up upload.Uploader) *upload.Segmenter {
	return upload.NewSegmenter("clip", up)
}
