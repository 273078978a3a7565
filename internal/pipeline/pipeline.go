// Package pipeline runs one input file through demux, decode, encode,
// preview, mux and upload stages connected by unbuffered channels.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/demux"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/metrics"
	"github.com/smazurov/segmentcast/internal/upload"
)

// StatusDone is the status of the message sent after the last upload.
const StatusDone = "done"

// Message is sent to the caller when a run completes.
type Message struct {
	Status string `json:"status"`
}

// Source is an input file. *os.File satisfies it.
type Source interface {
	io.ReadSeeker
	Name() string
}

// Options describes one run.
type Options struct {
	File         Source
	EncodeConfig media.EncoderConfig
	RenderFrame  RenderFunc
	SendMessage  func(Message)

	// Optional.
	RunID    string
	Uploader upload.Uploader // overrides the runner's uploader
}

// RunState is the per-run record. The segment counter is owned by the
// upload stage while the run is active.
type RunState struct {
	ID             string
	Stem           string
	SegmentCounter int
	EncodeConfig   media.EncoderConfig
	DecodeConfig   *media.DecoderConfig
	StartedAt      time.Time
	FinishedAt     time.Time
}

// EventPublisher publishes run events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Config configures a Runner.
type Config struct {
	Codecs    codec.Factory
	Uploader  upload.Uploader
	Events    EventPublisher // optional
	Threshold int            // segment flush threshold, upload.DefaultThreshold when zero
	Suffix    string         // segment filename suffix, upload.DefaultSuffix when empty

	// NewDemuxer is swapped in tests.
	NewDemuxer func() Demuxer
}

// Runner starts pipeline runs.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	if cfg.NewDemuxer == nil {
		cfg.NewDemuxer = func() Demuxer { return demux.NewMP4() }
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = upload.DefaultThreshold
	}
	if cfg.Suffix == "" {
		cfg.Suffix = upload.DefaultSuffix
	}
	return &Runner{
		cfg:    cfg,
		logger: logging.GetLogger("pipeline"),
	}
}

// Start runs opts with an ffmpeg codec factory and opts.Uploader.
func Start(ctx context.Context, opts Options) error {
	r := NewRunner(Config{Codecs: ffmpeg.NewFactory(ffmpeg.Options{})})
	_, err := r.Run(ctx, opts)
	return err
}

// Stem returns the segment filename stem for an input file name.
func Stem(name string) string {
	return strings.TrimSuffix(filepath.Base(name), ".mp4")
}

// Run transcodes opts.File and uploads it in segments. It returns the first
// stage error; all sessions are closed and all frames released before it
// returns. SendMessage is called exactly once, after the last upload, and
// only on success.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunState, error) {
	state := &RunState{
		ID:           opts.RunID,
		EncodeConfig: opts.EncodeConfig.WithDefaults(),
		StartedAt:    time.Now(),
	}
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	logger := r.logger.With("run_id", state.ID)

	uploader := opts.Uploader
	if uploader == nil {
		uploader = r.cfg.Uploader
	}
	if opts.File == nil || uploader == nil {
		return state, errors.New("pipeline: file and uploader are required")
	}
	state.Stem = Stem(opts.File.Name())

	supported, err := r.cfg.Codecs.IsSupported(ctx, state.EncodeConfig)
	if err != nil {
		return state, r.fail(logger, state, media.NewError(media.KindCodecConfigUnsupported, state.EncodeConfig.String(), err))
	}
	if !supported {
		return state, r.fail(logger, state, media.NewError(media.KindCodecConfigUnsupported, state.EncodeConfig.String(), nil))
	}

	decoder, err := r.cfg.Codecs.NewDecoder()
	if err != nil {
		return state, r.fail(logger, state, media.WrapKind(media.KindDecode, "new decoder", err))
	}
	preview, err := r.cfg.Codecs.NewDecoder()
	if err != nil {
		decoder.Close()
		return state, r.fail(logger, state, media.WrapKind(media.KindDecode, "new preview decoder", err))
	}
	encoder, err := r.cfg.Codecs.NewEncoder()
	if err != nil {
		decoder.Close()
		preview.Close()
		return state, r.fail(logger, state, media.WrapKind(media.KindEncode, "new encoder", err))
	}

	r.publish(events.RunStartedEvent{
		RunID:     state.ID,
		File:      opts.File.Name(),
		Stem:      state.Stem,
		Encoder:   state.EncodeConfig.String(),
		Timestamp: now(),
	})
	logger.Info("Run started", "file", opts.File.Name(), "stem", state.Stem, "encode", state.EncodeConfig.String())

	seg := upload.NewSegmenter(state.Stem, uploader,
		upload.WithThreshold(r.cfg.Threshold),
		upload.WithSuffix(r.cfg.Suffix),
		upload.OnFlush(func(file upload.File, index int) {
			state.SegmentCounter = index
			metrics.AddSegment(state.ID, len(file.Data))
			r.publish(events.SegmentUploadedEvent{
				RunID:     state.ID,
				Filename:  file.Filename,
				Index:     index,
				Bytes:     len(file.Data),
				Timestamp: now(),
			})
			logger.Info("Segment uploaded", "filename", file.Filename, "bytes", len(file.Data))
		}),
	)

	obs := runObserver(state.ID)
	demuxed := make(chan media.Record)
	frames := make(chan *media.Frame)
	encoded := make(chan media.Record)
	previewed := make(chan media.Record)
	fragments := make(chan []byte)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d := configRecorder{Demuxer: r.cfg.NewDemuxer(), state: state}
		return DemuxStage(gctx, d, opts.File, demuxed)
	})
	g.Go(func() error {
		return DecodeStage(gctx, demuxed, frames, decoder, obs)
	})
	g.Go(func() error {
		return EncodeStage(gctx, frames, encoded, encoder, state.EncodeConfig, obs)
	})
	g.Go(func() error {
		return PreviewStage(gctx, encoded, previewed, preview, opts.RenderFrame, obs)
	})
	g.Go(func() error {
		return MuxStage(gctx, previewed, fragments, state.EncodeConfig, obs)
	})
	g.Go(func() error {
		return UploadStage(gctx, fragments, seg)
	})

	err = g.Wait()
	state.SegmentCounter = seg.Segments()
	state.FinishedAt = time.Now()
	if err != nil {
		return state, r.fail(logger, state, err)
	}

	metrics.RecordRunResult(metrics.ResultDone)
	metrics.DeleteRunMetrics(state.ID)
	r.publish(events.RunCompletedEvent{
		RunID:     state.ID,
		Status:    StatusDone,
		Segments:  state.SegmentCounter,
		Duration:  state.FinishedAt.Sub(state.StartedAt).Round(time.Millisecond).String(),
		Timestamp: now(),
	})
	logger.Info("Run completed", "segments", state.SegmentCounter, "duration", state.FinishedAt.Sub(state.StartedAt))

	if opts.SendMessage != nil {
		opts.SendMessage(Message{Status: StatusDone})
	}
	return state, nil
}

func (r *Runner) fail(logger *slog.Logger, state *RunState, err error) error {
	kind, _ := media.KindOf(err)
	metrics.RecordRunResult(metrics.ResultFailed)
	metrics.DeleteRunMetrics(state.ID)
	r.publish(events.RunFailedEvent{
		RunID:     state.ID,
		Kind:      string(kind),
		Error:     err.Error(),
		Segments:  state.SegmentCounter,
		Timestamp: now(),
	})
	logger.Error("Run failed", "kind", kind, "segments", state.SegmentCounter, "error", err)
	return err
}

func (r *Runner) publish(ev events.Event) {
	if r.cfg.Events != nil {
		r.cfg.Events.Publish(ev)
	}
}

// configRecorder keeps the first decoder config of a run.
type configRecorder struct {
	Demuxer
	state *RunState
}

func (c configRecorder) Run(ctx context.Context, r io.ReadSeeker, h demux.Handler) error {
	onConfig := h.OnConfig
	h.OnConfig = func(cfg media.DecoderConfig) error {
		if c.state.DecodeConfig == nil {
			c.state.DecodeConfig = &cfg
		}
		return onConfig(cfg)
	}
	return c.Demuxer.Run(ctx, r, h)
}

type metricsObserver string

func runObserver(runID string) Observer { return metricsObserver(runID) }

func (m metricsObserver) FrameDecoded()  { metrics.AddDecoded(string(m)) }
func (m metricsObserver) ChunkEncoded()  { metrics.AddEncoded(string(m)) }
func (m metricsObserver) FrameRendered() { metrics.AddRendered(string(m)) }
func (m metricsObserver) BlockMuxed()    { metrics.AddMuxed(string(m)) }

func now() string {
	return time.Now().Format(time.RFC3339)
}
