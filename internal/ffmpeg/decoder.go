package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/process"
)

// Decoder decodes H.264 (Annex-B) or VP9 chunks to yuv420p frames through an
// ffmpeg subprocess.
type Decoder struct {
	factory *Factory
	id      string
	logger  *slog.Logger
	frames  chan *media.Frame
	closing chan struct{}

	mu         sync.Mutex
	ctx        context.Context
	cfg        media.DecoderConfig
	family     string
	pipe       *process.Pipe
	active     atomic.Pointer[process.Pipe] // pipe, readable without mu
	ivf        *ivfWriter
	stamps     *stampQueue
	readerDone chan struct{}
	readErr    error
	closed     bool
	closeOnce  sync.Once
	decoded    int
}

var _ codec.Decoder = (*Decoder)(nil)

func newDecoder(f *Factory, id string) *Decoder {
	return &Decoder{
		factory: f,
		id:      id,
		logger:  f.logger.With("session", id),
		frames:  make(chan *media.Frame),
		closing: make(chan struct{}),
	}
}

// Configure starts the decoder process for cfg. Calling it again drains
// the running process first. The session lives until ctx is cancelled or
// Close is called.
func (d *Decoder) Configure(ctx context.Context, cfg media.DecoderConfig) error {
	family, ok := CodecFamily(cfg.Codec)
	if !ok {
		return media.NewError(media.KindCodecConfigUnsupported, "decoder codec "+cfg.Codec, nil)
	}
	if cfg.CodedWidth <= 0 || cfg.CodedHeight <= 0 {
		return media.NewError(media.KindCodecConfigUnsupported,
			fmt.Sprintf("decoder size %dx%d", cfg.CodedWidth, cfg.CodedHeight), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return codec.ErrClosed
	}
	if d.pipe != nil {
		if err := d.drainLocked(ctx); err != nil {
			return err
		}
	}

	d.ctx = ctx
	d.cfg = cfg
	d.family = family
	return d.startLocked()
}

func (d *Decoder) startLocked() error {
	args := BuildArgs(&Params{
		Binary:            d.factory.binary,
		InputFormat:       inputFormat(d.family),
		OutputSize:        Size(d.cfg.CodedWidth, d.cfg.CodedHeight),
		OutputFormat:      "rawvideo",
		OutputPixelFormat: media.PixelFormat,
		Options:           []OptionType{OptionLowLatency, OptionPassthrough},
	})

	pipe, err := d.factory.startPipe(d.ctx, d.id, args)
	if err != nil {
		return media.NewError(media.KindDecode, "start decoder", err)
	}
	d.pipe = pipe
	d.active.Store(pipe)
	d.stamps = &stampQueue{}
	d.ivf = nil
	d.readErr = nil
	d.readerDone = make(chan struct{})
	go d.readFrames(pipe, d.stamps, d.cfg.CodedWidth, d.cfg.CodedHeight, d.readerDone)

	if d.family == FamilyVP9 {
		w, err := newIVFWriter(pipe.Stdin(), fourccVP9, d.cfg.CodedWidth, d.cfg.CodedHeight)
		if err != nil {
			return media.NewError(media.KindDecode, "write ivf header", d.pipeErr(err))
		}
		d.ivf = w
	}

	d.logger.Debug("Decoder configured", "codec", d.cfg.Codec, "width", d.cfg.CodedWidth, "height", d.cfg.CodedHeight)
	return nil
}

// Decode submits one chunk. It blocks while the process is not consuming
// input, which happens when nobody receives from Frames.
func (d *Decoder) Decode(ctx context.Context, chunk *media.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return codec.ErrClosed
	}
	if d.pipe == nil {
		return codec.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.stamps.push(chunk.Timestamp, chunk.Duration)

	var err error
	if d.ivf != nil {
		err = d.ivf.writeFrame(uint64(chunk.Timestamp.Milliseconds()), chunk.Data)
	} else {
		_, err = d.pipe.Stdin().Write(chunk.Data)
	}
	if err != nil {
		return media.NewError(media.KindDecode, "submit chunk "+chunk.String(), d.pipeErr(err))
	}
	return nil
}

// Frames delivers decoded frames in the order the decoder emits them.
func (d *Decoder) Frames() <-chan *media.Frame {
	return d.frames
}

// Flush ends the input and blocks until every pending frame has been
// received from Frames and the process has exited.
func (d *Decoder) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return codec.ErrClosed
	}
	if d.pipe == nil {
		return nil
	}
	return d.drainLocked(ctx)
}

func (d *Decoder) drainLocked(ctx context.Context) error {
	pipe := d.pipe
	_ = pipe.Stdin().Close()

	select {
	case <-d.readerDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-pipe.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	d.pipe = nil
	d.active.Store(nil)
	if d.readErr != nil {
		return media.NewError(media.KindDecode, "read frames", d.readErr)
	}
	if err := pipe.Err(); err != nil {
		return media.NewError(media.KindDecode, "decoder exited", err)
	}
	if n := d.stamps.len(); n > 0 {
		d.logger.Debug("Decoder dropped chunks", "count", n)
	}
	return nil
}

// Close kills the process and closes Frames. Frames the process was still
// emitting are released.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		close(d.closing)
		// unblocks a Decode/Encode or Flush holding mu
		if pipe := d.active.Load(); pipe != nil {
			_ = pipe.Kill()
		}

		d.mu.Lock()
		d.closed = true
		pipe, done := d.pipe, d.readerDone
		d.pipe = nil
		d.active.Store(nil)
		d.mu.Unlock()

		if pipe != nil {
			_ = pipe.Kill()
			<-done
		}
		close(d.frames)
		d.logger.Debug("Decoder closed", "frames", d.decoded)
	})
	return nil
}

func (d *Decoder) readFrames(pipe *process.Pipe, stamps *stampQueue, width, height int, done chan struct{}) {
	defer close(done)

	for {
		frame := media.NewFrame(width, height, 0)
		n, err := io.ReadFull(pipe.Stdout(), frame.Data())
		if err != nil {
			frame.Close()
			if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)) {
				return
			}
			select {
			case <-d.closing:
			default:
				// readErr is read under d.mu after done is closed
				d.readErr = fmt.Errorf("short frame (%d of %d bytes): %w", n, media.FrameSize(width, height), err)
			}
			return
		}

		frame.Timestamp, frame.Duration = stamps.pop()
		select {
		case d.frames <- frame:
			d.decoded++
		case <-d.closing:
			frame.Close()
			return
		}
	}
}

// pipeErr prefers the process's exit error over the write error it caused.
func (d *Decoder) pipeErr(err error) error {
	select {
	case <-d.pipe.Done():
		if exitErr := d.pipe.Err(); exitErr != nil {
			return exitErr
		}
	default:
	}
	return err
}
