package pipeline

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/demux"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/mux"
	"github.com/smazurov/segmentcast/internal/upload"
)

// Stages close their output channel only when they return nil. On error
// downstream stages stop through the cancelled group context, so nothing
// downstream mistakes a failure for a clean end of stream.

// RenderFunc receives preview frames. The frame is released after the call
// returns; a sink that keeps pixels must copy them.
type RenderFunc func(frame *media.Frame)

// Demuxer delivers the video track of a container.
type Demuxer interface {
	Run(ctx context.Context, r io.ReadSeeker, h demux.Handler) error
}

// Observer counts stage progress. All methods are called from stage
// goroutines.
type Observer interface {
	FrameDecoded()
	ChunkEncoded()
	FrameRendered()
	BlockMuxed()
}

type nopObserver struct{}

func (nopObserver) FrameDecoded()  {}
func (nopObserver) ChunkEncoded()  {}
func (nopObserver) FrameRendered() {}
func (nopObserver) BlockMuxed()    {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, in <-chan T) (T, bool, error) {
	select {
	case v, ok := <-in:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// DemuxStage runs d over r and emits one config record followed by a chunk
// record per sample.
func DemuxStage(ctx context.Context, d Demuxer, r io.ReadSeeker, out chan<- media.Record) error {
	err := d.Run(ctx, r, demux.Handler{
		OnConfig: func(cfg media.DecoderConfig) error {
			return send(ctx, out, media.ConfigRecord(cfg))
		},
		OnChunk: func(chunk *media.Chunk) error {
			return send(ctx, out, media.ChunkRecord(chunk))
		},
	})
	if err != nil {
		return err
	}
	close(out)
	return nil
}

// DecodeStage decodes chunk records with a single decoder session and
// forwards frames in the order the session delivers them.
func DecodeStage(ctx context.Context, in <-chan media.Record, out chan<- *media.Frame, dec codec.Decoder, obs Observer) error {
	obs = observerOrNop(obs)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for frame := range dec.Frames() {
			if err := send(gctx, out, frame); err != nil {
				frame.Close()
				continue
			}
			obs.FrameDecoded()
		}
		return nil
	})

	g.Go(func() error {
		defer dec.Close()
		return submitChunks(gctx, in, dec, "decode", func(media.Record) error { return nil })
	})

	if err := g.Wait(); err != nil {
		return err
	}
	close(out)
	return nil
}

// submitChunks feeds records from in to dec until in is closed, then
// flushes dec. forward is called with every chunk record after it was
// submitted.
func submitChunks(ctx context.Context, in <-chan media.Record, dec codec.Decoder, stage string, forward func(media.Record) error) error {
	configured := false
	for {
		rec, ok, err := recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		switch rec.Kind {
		case media.RecordConfig:
			if err := dec.Configure(ctx, *rec.Config); err != nil {
				return media.WrapKind(media.KindDecode, stage+": configure "+rec.Config.Codec, err)
			}
			configured = true
		case media.RecordChunk:
			if !configured {
				return media.NewError(media.KindDecode, stage+": decode before configure", codec.ErrNotConfigured)
			}
			if err := dec.Decode(ctx, rec.Chunk); err != nil {
				return media.WrapKind(media.KindDecode, stage+": "+rec.Chunk.String(), err)
			}
			if err := forward(rec); err != nil {
				return err
			}
		}
	}

	if !configured {
		return nil
	}
	if err := dec.Flush(ctx); err != nil {
		return media.WrapKind(media.KindDecode, stage+": flush", err)
	}
	return nil
}

// EncodeStage configures enc with cfg before reading any frame, then
// encodes and releases each frame. Every chunk carrying decoder config is
// preceded by a config record.
func EncodeStage(ctx context.Context, in <-chan *media.Frame, out chan<- media.Record, enc codec.Encoder, cfg media.EncoderConfig, obs Observer) error {
	obs = observerOrNop(obs)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for o := range enc.Output() {
			if gctx.Err() != nil {
				continue
			}
			if o.DecoderConfig != nil {
				if err := send(gctx, out, media.ConfigRecord(*o.DecoderConfig)); err != nil {
					continue
				}
			}
			if err := send(gctx, out, media.ChunkRecord(o.Chunk)); err != nil {
				continue
			}
			obs.ChunkEncoded()
		}
		return nil
	})

	g.Go(func() error {
		defer enc.Close()
		if err := enc.Configure(gctx, cfg); err != nil {
			return media.WrapKind(media.KindCodecConfigUnsupported, "configure encoder", err)
		}

		for {
			frame, ok, err := recv(gctx, in)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := encodeFrame(gctx, enc, frame); err != nil {
				return err
			}
		}

		if err := enc.Flush(gctx); err != nil {
			return media.WrapKind(media.KindEncode, "flush encoder", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	close(out)
	return nil
}

func encodeFrame(ctx context.Context, enc codec.Encoder, frame *media.Frame) error {
	defer frame.Close()
	if err := enc.Encode(ctx, frame, codec.EncodeOptions{}); err != nil {
		return media.WrapKind(media.KindEncode, "encode frame", err)
	}
	return nil
}

// PreviewStage decodes encoded chunks to sink and forwards every chunk
// record unchanged. Config records configure dec and are not forwarded.
func PreviewStage(ctx context.Context, in <-chan media.Record, out chan<- media.Record, dec codec.Decoder, sink RenderFunc, obs Observer) error {
	obs = observerOrNop(obs)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for frame := range dec.Frames() {
			if gctx.Err() == nil && sink != nil {
				sink(frame)
				obs.FrameRendered()
			}
			frame.Close()
		}
		return nil
	})

	g.Go(func() error {
		defer dec.Close()
		return submitChunks(gctx, in, dec, "preview", func(rec media.Record) error {
			return send(gctx, out, rec)
		})
	})

	if err := g.Wait(); err != nil {
		return err
	}
	close(out)
	return nil
}

// MuxStage writes chunk records into a WebM stream and emits its bytes as
// fragments. Config records are dropped.
func MuxStage(ctx context.Context, in <-chan media.Record, out chan<- []byte, cfg media.EncoderConfig, obs Observer) error {
	obs = observerOrNop(obs)
	m, err := mux.NewWebM(cfg)
	if err != nil {
		return err
	}
	defer m.Close(ctx)

	emit := func() error {
		for _, frag := range m.TakeFragments() {
			if err := send(ctx, out, frag); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		rec, ok, err := recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if rec.Kind != media.RecordChunk {
			continue
		}
		if err := m.Write(rec.Chunk); err != nil {
			return err
		}
		obs.BlockMuxed()
		if err := emit(); err != nil {
			return err
		}
	}

	if err := m.Close(ctx); err != nil {
		return err
	}
	if err := emit(); err != nil {
		return err
	}
	close(out)
	return nil
}

// UploadStage hands fragments to seg and uploads the remainder once in is
// closed. A cancelled run uploads nothing further.
func UploadStage(ctx context.Context, in <-chan []byte, seg *upload.Segmenter) error {
	for {
		frag, ok, err := recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			return seg.Close(ctx)
		}
		if err := seg.Write(ctx, frag); err != nil {
			return err
		}
	}
}
