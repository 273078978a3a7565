// Package demux reads the H.264 video track of an MP4 file as a lazy
// sequence of encoded chunks.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("demuxer already run")

// Handler receives the demuxed stream. OnConfig is called exactly once,
// before the first OnChunk. A handler error stops demuxing and is returned
// from Run unchanged.
type Handler struct {
	OnConfig func(cfg media.DecoderConfig) error
	OnChunk  func(chunk *media.Chunk) error
}

// MP4 demuxes the first avc1 track of an MP4 file.
type MP4 struct {
	logger *slog.Logger
	ran    atomic.Bool
}

// NewMP4 creates a one-shot MP4 demuxer.
func NewMP4() *MP4 {
	return &MP4{logger: logging.GetLogger("demux")}
}

// Run parses r and delivers the video track through h. Samples are read one
// at a time; a blocking handler stalls reading.
func (d *MP4) Run(ctx context.Context, r io.ReadSeeker, h Handler) error {
	if !d.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	track, err := probeVideoTrack(r)
	if err != nil {
		return media.NewError(media.KindContainerParse, "probe", err)
	}

	d.logger.Info("Demuxing video track",
		"codec", track.config.Codec,
		"width", track.config.CodedWidth,
		"height", track.config.CodedHeight,
		"samples", len(track.samples))

	if err := h.OnConfig(track.config); err != nil {
		return err
	}

	var buf []byte
	for i, s := range track.samples {
		if err := ctx.Err(); err != nil {
			return err
		}

		buf = grow(buf, int(s.size))
		if _, err := r.Seek(int64(s.offset), io.SeekStart); err != nil {
			return media.NewError(media.KindContainerParse, fmt.Sprintf("seek sample %d", i+1), err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return media.NewError(media.KindContainerParse, fmt.Sprintf("read sample %d", i+1), err)
		}

		data, err := track.toAnnexB(buf, s.key)
		if err != nil {
			return media.NewError(media.KindContainerParse, fmt.Sprintf("sample %d", i+1), err)
		}

		chunk := &media.Chunk{
			Type:      media.DeltaFrame,
			Timestamp: track.duration(s.pts),
			Duration:  track.duration(int64(s.delta)),
			Data:      data,
		}
		if s.key {
			chunk.Type = media.KeyFrame
		}
		if err := h.OnChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

type sample struct {
	offset uint64
	size   uint32
	pts    int64
	delta  uint32
	key    bool
}

type videoTrack struct {
	timescale  uint32
	config     media.DecoderConfig
	lengthSize int
	sps        []byte
	pps        []byte
	samples    []sample
}

// duration converts track ticks without overflowing for long inputs or
// fine timescales.
func (t *videoTrack) duration(ticks int64) time.Duration {
	ts := int64(t.timescale)
	return time.Duration(ticks/ts)*time.Second + time.Duration(ticks%ts)*time.Second/time.Duration(ts)
}

// toAnnexB converts a length-prefixed sample to Annex-B, prepending the
// parameter sets on key frames so every key frame is independently decodable.
func (t *videoTrack) toAnnexB(sample []byte, key bool) ([]byte, error) {
	nalus, err := splitAVCC(sample, t.lengthSize)
	if err != nil {
		return nil, err
	}
	if key {
		nalus = append([][]byte{t.sps, t.pps}, nalus...)
	}
	return h264.AnnexB(nalus).Marshal()
}

// splitAVCC splits a sample whose NAL units carry n-byte big-endian length
// prefixes. mediacommon's AVCC type covers the common 4-byte case.
func splitAVCC(b []byte, n int) ([][]byte, error) {
	if n == 4 {
		var avcc h264.AVCC
		if err := avcc.Unmarshal(b); err != nil {
			return nil, err
		}
		return avcc, nil
	}

	var nalus [][]byte
	for len(b) > 0 {
		if len(b) < n {
			return nil, errors.New("truncated NAL unit length")
		}
		size := 0
		for i := 0; i < n; i++ {
			size = size<<8 | int(b[i])
		}
		b = b[n:]
		if size == 0 || size > len(b) {
			return nil, fmt.Errorf("invalid NAL unit size %d", size)
		}
		nalus = append(nalus, b[:size])
		b = b[size:]
	}
	return nalus, nil
}
