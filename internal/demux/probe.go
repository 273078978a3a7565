package demux

import (
	"errors"
	"fmt"
	"io"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/smazurov/segmentcast/internal/media"
)

var (
	// ErrNoVideoTrack is returned for files without an avc1 track.
	ErrNoVideoTrack = errors.New("no H.264 video track")
	// ErrFragmented is returned for fragmented MP4, whose samples live in
	// moof boxes rather than the moov sample table.
	ErrFragmented = errors.New("fragmented mp4 is not supported")
)

func probeVideoTrack(r io.ReadSeeker) (*videoTrack, error) {
	info, err := mp4.Probe(r)
	if err != nil {
		return nil, fmt.Errorf("failed to probe mp4: %w", err)
	}

	var src *mp4.Track
	for _, t := range info.Tracks {
		if t.Codec == mp4.CodecAVC1 && !t.Encrypted {
			src = t
			break
		}
	}
	if src == nil {
		return nil, ErrNoVideoTrack
	}
	if src.Timescale == 0 {
		return nil, errors.New("video track has zero timescale")
	}
	if len(src.Samples) == 0 {
		if fragmented(r) {
			return nil, ErrFragmented
		}
		return nil, errors.New("video track has no samples")
	}

	trak, err := findTrak(r, src.TrackID)
	if err != nil {
		return nil, err
	}

	track := &videoTrack{timescale: src.Timescale}
	if err := track.readAVCConfig(r, trak); err != nil {
		return nil, err
	}
	if src.AVC != nil && track.config.CodedWidth == 0 {
		track.config.CodedWidth = int(src.AVC.Width)
		track.config.CodedHeight = int(src.AVC.Height)
	}

	keys, err := syncSamples(r, trak)
	if err != nil {
		return nil, err
	}
	if track.samples, err = sampleTable(src, keys); err != nil {
		return nil, err
	}
	return track, nil
}

// fragmented reports whether the movie declares fragments (moov/mvex).
func fragmented(r io.ReadSeeker) bool {
	mvex, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeMvex()})
	return err == nil && len(mvex) > 0
}

func findTrak(r io.ReadSeeker, trackID uint32) (*mp4.BoxInfo, error) {
	traks, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}
	for _, trak := range traks {
		boxes, err := mp4.ExtractBoxWithPayload(r, trak, mp4.BoxPath{mp4.BoxTypeTkhd()})
		if err != nil {
			return nil, fmt.Errorf("failed to read track header: %w", err)
		}
		if len(boxes) == 0 {
			continue
		}
		if tkhd, ok := boxes[0].Payload.(*mp4.Tkhd); ok && tkhd.TrackID == trackID {
			return trak, nil
		}
	}
	return nil, fmt.Errorf("track %d not found", trackID)
}

func (t *videoTrack) readAVCConfig(r io.ReadSeeker, trak *mp4.BoxInfo) error {
	boxes, err := mp4.ExtractBoxWithPayload(r, trak, mp4.BoxPath{
		mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(),
		mp4.BoxTypeStsd(), mp4.BoxTypeAvc1(), mp4.BoxTypeAvcC(),
	})
	if err != nil {
		return fmt.Errorf("failed to read avcC: %w", err)
	}
	if len(boxes) == 0 {
		return errors.New("missing avcC box")
	}

	avcC, ok := boxes[0].Payload.(*mp4.AVCDecoderConfiguration)
	if !ok {
		return errors.New("unexpected avcC payload")
	}
	if len(avcC.SequenceParameterSets) == 0 || len(avcC.PictureParameterSets) == 0 {
		return errors.New("avcC carries no parameter sets")
	}
	t.sps = avcC.SequenceParameterSets[0].NALUnit
	t.pps = avcC.PictureParameterSets[0].NALUnit
	t.lengthSize = int(avcC.LengthSizeMinusOne) + 1

	description, err := readBoxPayload(r, &boxes[0].Info)
	if err != nil {
		return err
	}

	var sps h264.SPS
	if err := sps.Unmarshal(t.sps); err != nil {
		return fmt.Errorf("invalid SPS: %w", err)
	}

	t.config = media.DecoderConfig{
		Codec:       codecString(description),
		CodedWidth:  sps.Width(),
		CodedHeight: sps.Height(),
		Description: description,
	}
	return nil
}

func readBoxPayload(r io.ReadSeeker, bi *mp4.BoxInfo) ([]byte, error) {
	if bi.Size < bi.HeaderSize {
		return nil, errors.New("invalid box size")
	}
	if _, err := r.Seek(int64(bi.Offset+bi.HeaderSize), io.SeekStart); err != nil {
		return nil, err
	}
	payload := make([]byte, bi.Size-bi.HeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read %s payload: %w", bi.Type, err)
	}
	return payload, nil
}

// codecString builds the "avc1.PPCCLL" codec string from an
// AVCDecoderConfigurationRecord.
func codecString(avcC []byte) string {
	if len(avcC) < 4 {
		return "avc1"
	}
	return fmt.Sprintf("avc1.%02x%02x%02x", avcC[1], avcC[2], avcC[3])
}

// syncSamples returns the 1-based key sample numbers, or nil when every
// sample is a sync sample.
func syncSamples(r io.ReadSeeker, trak *mp4.BoxInfo) (map[uint32]bool, error) {
	boxes, err := mp4.ExtractBoxWithPayload(r, trak, mp4.BoxPath{
		mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStss(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stss: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	stss, ok := boxes[0].Payload.(*mp4.Stss)
	if !ok {
		return nil, errors.New("unexpected stss payload")
	}
	keys := make(map[uint32]bool, len(stss.SampleNumber))
	for _, n := range stss.SampleNumber {
		keys[n] = true
	}
	return keys, nil
}

// sampleTable resolves file offsets and presentation times for every sample
// in decode order.
func sampleTable(src *mp4.Track, keys map[uint32]bool) ([]sample, error) {
	samples := make([]sample, 0, len(src.Samples))
	var dts int64
	idx := 0
	for _, chunk := range src.Chunks {
		offset := chunk.DataOffset
		for i := uint32(0); i < chunk.SamplesPerChunk; i++ {
			if idx >= len(src.Samples) {
				return nil, errors.New("chunk table references more samples than present")
			}
			s := src.Samples[idx]
			number := uint32(idx + 1)
			samples = append(samples, sample{
				offset: offset,
				size:   s.Size,
				pts:    dts + s.CompositionTimeOffset,
				delta:  s.TimeDelta,
				key:    keys == nil || keys[number],
			})
			offset += uint64(s.Size)
			dts += int64(s.TimeDelta)
			idx++
		}
	}
	if idx != len(src.Samples) {
		return nil, fmt.Errorf("chunk table covers %d of %d samples", idx, len(src.Samples))
	}
	return samples, nil
}
