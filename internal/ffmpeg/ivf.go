package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	ivfSignature       = "DKIF"
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
	fourccVP9          = "VP90"
)

// ivfHeader is the 32-byte IVF file header.
type ivfHeader struct {
	FourCC      string
	Width       int
	Height      int
	TimebaseDen uint32
	TimebaseNum uint32
	Frames      uint32
}

// ivfFrame is one frame record.
type ivfFrame struct {
	PTS  uint64
	Data []byte
}

type ivfReader struct {
	r      io.Reader
	header ivfHeader
	hdr    [ivfFrameHeaderSize]byte
}

func newIVFReader(r io.Reader) (*ivfReader, error) {
	var b [ivfFileHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("failed to read IVF header: %w", err)
	}
	if string(b[0:4]) != ivfSignature {
		return nil, errors.New("missing IVF signature")
	}
	if size := binary.LittleEndian.Uint16(b[6:8]); size != ivfFileHeaderSize {
		return nil, fmt.Errorf("unexpected IVF header size %d", size)
	}
	return &ivfReader{
		r: r,
		header: ivfHeader{
			FourCC:      string(b[8:12]),
			Width:       int(binary.LittleEndian.Uint16(b[12:14])),
			Height:      int(binary.LittleEndian.Uint16(b[14:16])),
			TimebaseDen: binary.LittleEndian.Uint32(b[16:20]),
			TimebaseNum: binary.LittleEndian.Uint32(b[20:24]),
			Frames:      binary.LittleEndian.Uint32(b[24:28]),
		},
	}, nil
}

// next returns the next frame, or io.EOF at a clean end of stream.
func (r *ivfReader) next() (ivfFrame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return ivfFrame{}, io.EOF
		}
		return ivfFrame{}, fmt.Errorf("failed to read IVF frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(r.hdr[0:4])
	if size > 64<<20 {
		return ivfFrame{}, fmt.Errorf("IVF frame size %d out of range", size)
	}
	frame := ivfFrame{
		PTS:  binary.LittleEndian.Uint64(r.hdr[4:12]),
		Data: make([]byte, size),
	}
	if _, err := io.ReadFull(r.r, frame.Data); err != nil {
		return ivfFrame{}, fmt.Errorf("failed to read IVF frame: %w", err)
	}
	return frame, nil
}

type ivfWriter struct {
	w   io.Writer
	buf []byte
}

// newIVFWriter writes the file header. The frame count is left at zero,
// which demuxers accept for live streams.
func newIVFWriter(w io.Writer, fourcc string, width, height int) (*ivfWriter, error) {
	b := make([]byte, ivfFileHeaderSize)
	copy(b[0:4], ivfSignature)
	binary.LittleEndian.PutUint16(b[4:6], 0)
	binary.LittleEndian.PutUint16(b[6:8], ivfFileHeaderSize)
	copy(b[8:12], fourcc)
	binary.LittleEndian.PutUint16(b[12:14], uint16(width))
	binary.LittleEndian.PutUint16(b[14:16], uint16(height))
	binary.LittleEndian.PutUint32(b[16:20], 1000) // millisecond timebase
	binary.LittleEndian.PutUint32(b[20:24], 1)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	return &ivfWriter{w: w}, nil
}

func (w *ivfWriter) writeFrame(pts uint64, data []byte) error {
	n := ivfFrameHeaderSize + len(data)
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	b := w.buf[:n]
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint64(b[4:12], pts)
	copy(b[ivfFrameHeaderSize:], data)
	_, err := w.w.Write(b)
	return err
}
