package media

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFrameReleased is returned when a frame is released twice.
var ErrFrameReleased = errors.New("frame already released")

// PixelFormat of a raw frame. Only planar 4:2:0 is produced.
const PixelFormat = "yuv420p"

var (
	bufferPool sync.Pool
	liveFrames atomic.Int64
)

// FrameSize returns the byte size of a yuv420p frame.
func FrameSize(width, height int) int {
	return width*height + 2*((width+1)/2)*((height+1)/2)
}

// Frame is an owned, uncompressed yuv420p picture. Exactly one goroutine owns
// a frame at a time; ownership moves with channel sends and the final owner
// must call Close.
type Frame struct {
	Timestamp time.Duration
	Duration  time.Duration
	Width     int
	Height    int

	buf      *[]byte
	released atomic.Bool
}

// NewFrame allocates a frame from the buffer pool. The pixel data is not cleared.
func NewFrame(width, height int, timestamp time.Duration) *Frame {
	size := FrameSize(width, height)
	buf, _ := bufferPool.Get().(*[]byte)
	if buf == nil || cap(*buf) < size {
		b := make([]byte, size)
		buf = &b
	}
	*buf = (*buf)[:size]
	liveFrames.Add(1)
	return &Frame{
		Timestamp: timestamp,
		Width:     width,
		Height:    height,
		buf:       buf,
	}
}

// Data returns the pixel buffer, or nil after release.
func (f *Frame) Data() []byte {
	if f.released.Load() {
		return nil
	}
	return *f.buf
}

// Release returns the pixel buffer to the pool.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrFrameReleased
	}
	buf := f.buf
	f.buf = nil
	bufferPool.Put(buf)
	liveFrames.Add(-1)
	return nil
}

// Close releases the frame. Calling it more than once is a no-op.
func (f *Frame) Close() error {
	_ = f.Release()
	return nil
}

// Released reports whether the frame has been released.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Image returns a YCbCr view over the frame's pixels. The view is invalid
// after the frame is released.
func (f *Frame) Image() *image.YCbCr {
	data := f.Data()
	if data == nil {
		return nil
	}
	ySize := f.Width * f.Height
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	cSize := cw * ch
	return &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        f.Width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

// LiveFrames returns the number of frames allocated and not yet released.
func LiveFrames() int64 {
	return liveFrames.Load()
}
