package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/process"
)

// KeyFrameInterval is the keyframe distance in seconds.
const KeyFrameInterval = 2

// Encoder encodes yuv420p frames to VP9 through an ffmpeg subprocess. The
// process starts on the first frame and is restarted whenever the input size
// changes or a keyframe is requested mid-stream.
type Encoder struct {
	factory *Factory
	id      string
	logger  *slog.Logger
	output  chan codec.EncodedOutput
	closing chan struct{}

	mu         sync.Mutex
	ctx        context.Context
	cfg        media.EncoderConfig
	spec       EncoderSpec
	configured bool
	closed     bool
	closeOnce  sync.Once

	pipe       *process.Pipe
	active     atomic.Pointer[process.Pipe] // pipe, readable without mu
	inWidth    int
	inHeight   int
	submitted  int
	stamps     *stampQueue
	readerDone chan struct{}
	readErr    error
	restarts   int

	// owned by the reader goroutine; readers never overlap
	lastWidth  int
	lastHeight int
	encoded    int
}

var _ codec.Encoder = (*Encoder)(nil)

func newEncoder(f *Factory, id string) *Encoder {
	return &Encoder{
		factory: f,
		id:      id,
		logger:  f.logger.With("session", id),
		output:  make(chan codec.EncodedOutput),
		closing: make(chan struct{}),
	}
}

// Configure selects an ffmpeg encoder for cfg. The session lives until ctx
// is cancelled or Close is called.
func (e *Encoder) Configure(ctx context.Context, cfg media.EncoderConfig) error {
	cfg = cfg.WithDefaults()
	spec, err := e.factory.SelectEncoder(ctx, cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codec.ErrClosed
	}
	if e.pipe != nil {
		if err := e.drainLocked(ctx); err != nil {
			return err
		}
	}
	e.ctx = ctx
	e.cfg = cfg
	e.spec = spec
	e.configured = true

	e.logger.Debug("Encoder configured", "config", cfg.String(), "encoder", spec.Name)
	return nil
}

// Encode submits one frame. The caller keeps ownership of frame.
func (e *Encoder) Encode(ctx context.Context, frame *media.Frame, opts codec.EncodeOptions) error {
	if frame.Released() {
		return media.NewError(media.KindEncode, "encode frame", media.ErrFrameReleased)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codec.ErrClosed
	}
	if !e.configured {
		return codec.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.pipe != nil {
		resized := frame.Width != e.inWidth || frame.Height != e.inHeight
		forceKey := opts.KeyFrame && e.submitted > 0
		if resized || forceKey {
			e.logger.Debug("Restarting encoder", "resized", resized, "key_frame", forceKey)
			if err := e.drainLocked(ctx); err != nil {
				return err
			}
			e.restarts++
		}
	}
	if e.pipe == nil {
		if err := e.startLocked(frame.Width, frame.Height); err != nil {
			return err
		}
	}

	e.stamps.push(frame.Timestamp, frame.Duration)
	if _, err := e.pipe.Stdin().Write(frame.Data()); err != nil {
		return media.NewError(media.KindEncode, "submit frame", e.pipeErr(err))
	}
	e.submitted++
	return nil
}

func (e *Encoder) startLocked(width, height int) error {
	filters := fmt.Sprintf("scale=%d:%d", e.cfg.Width, e.cfg.Height)
	if e.spec.VideoFilters != "" {
		filters += "," + e.spec.VideoFilters
	}

	args := BuildArgs(&Params{
		Binary:           e.factory.binary,
		GlobalArgs:       e.spec.GlobalArgs,
		InputFormat:      "rawvideo",
		InputPixelFormat: media.PixelFormat,
		InputSize:        Size(width, height),
		InputRate:        strconv.FormatFloat(e.cfg.Framerate, 'f', -1, 64),
		VideoFilters:     filters,
		Encoder:          e.spec.Name,
		Bitrate:          e.cfg.Bitrate,
		GOP:              int(math.Round(e.cfg.Framerate * KeyFrameInterval)),
		OutputParams:     e.spec.OutputParams,
		OutputFormat:     "ivf",
		Options:          []OptionType{OptionPassthrough, OptionRealtime, OptionNoLookahead, OptionRowMT},
	})

	pipe, err := e.factory.startPipe(e.ctx, e.id, args)
	if err != nil {
		return media.NewError(media.KindEncode, "start encoder", err)
	}
	e.pipe = pipe
	e.active.Store(pipe)
	e.inWidth, e.inHeight = width, height
	e.submitted = 0
	e.stamps = &stampQueue{ordered: true}
	e.readErr = nil
	e.readerDone = make(chan struct{})
	go e.readOutput(pipe, e.stamps, e.readerDone)
	return nil
}

// Output delivers encoded chunks in submission order.
func (e *Encoder) Output() <-chan codec.EncodedOutput {
	return e.output
}

// Flush blocks until every submitted frame has been received from Output.
func (e *Encoder) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codec.ErrClosed
	}
	if e.pipe == nil {
		return nil
	}
	return e.drainLocked(ctx)
}

func (e *Encoder) drainLocked(ctx context.Context) error {
	pipe := e.pipe
	_ = pipe.Stdin().Close()

	select {
	case <-e.readerDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-pipe.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	e.pipe = nil
	e.active.Store(nil)
	if e.readErr != nil {
		return media.NewError(media.KindEncode, "read output", e.readErr)
	}
	if err := pipe.Err(); err != nil {
		return media.NewError(media.KindEncode, "encoder exited", err)
	}
	return nil
}

// Close kills the process and closes Output.
func (e *Encoder) Close() error {
	e.closeOnce.Do(func() {
		close(e.closing)
		// unblocks a Decode/Encode or Flush holding mu
		if pipe := e.active.Load(); pipe != nil {
			_ = pipe.Kill()
		}

		e.mu.Lock()
		e.closed = true
		pipe, done := e.pipe, e.readerDone
		e.pipe = nil
		e.active.Store(nil)
		e.mu.Unlock()

		if pipe != nil {
			_ = pipe.Kill()
			<-done
		}
		close(e.output)
		e.logger.Debug("Encoder closed", "chunks", e.encoded, "restarts", e.restarts)
	})
	return nil
}

func (e *Encoder) readOutput(pipe *process.Pipe, stamps *stampQueue, done chan struct{}) {
	defer close(done)

	ivf, err := newIVFReader(pipe.Stdout())
	if err != nil {
		// a process that saw no input exits without a header
		if !errors.Is(err, io.EOF) {
			e.setReadErr(err)
		}
		return
	}

	first := true
	for {
		frame, err := ivf.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.setReadErr(err)
			}
			return
		}

		chunk := &media.Chunk{Type: media.DeltaFrame, Data: frame.Data}
		chunk.Timestamp, chunk.Duration = stamps.pop()

		width, height := ivf.header.Width, ivf.header.Height
		info, ok := parseVP9Frame(frame.Data)
		if ok && info.Key {
			chunk.Type = media.KeyFrame
			width, height = info.Width, info.Height
		} else if !ok && first {
			chunk.Type = media.KeyFrame
		}
		first = false

		out := codec.EncodedOutput{Chunk: chunk}
		if chunk.IsKey() && (width != e.lastWidth || height != e.lastHeight) {
			e.lastWidth, e.lastHeight = width, height
			out.DecoderConfig = &media.DecoderConfig{
				Codec:       e.cfg.Codec,
				CodedWidth:  width,
				CodedHeight: height,
			}
		}

		select {
		case e.output <- out:
			e.encoded++
		case <-e.closing:
			return
		}
	}
}

func (e *Encoder) setReadErr(err error) {
	select {
	case <-e.closing:
	default:
		e.readErr = err
	}
}

func (e *Encoder) pipeErr(err error) error {
	select {
	case <-e.pipe.Done():
		if exitErr := e.pipe.Err(); exitErr != nil {
			return exitErr
		}
	default:
	}
	return err
}
