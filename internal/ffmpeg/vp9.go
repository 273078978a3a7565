package ffmpeg

// bitReader reads MSB-first bits from a VP9 uncompressed header.
type bitReader struct {
	b   []byte
	pos int
}

func (r *bitReader) bit() (int, bool) {
	if r.pos >= len(r.b)*8 {
		return 0, false
	}
	v := int(r.b[r.pos/8]>>(7-uint(r.pos%8))) & 1
	r.pos++
	return v, true
}

func (r *bitReader) bits(n int) (int, bool) {
	v := 0
	for i := 0; i < n; i++ {
		b, ok := r.bit()
		if !ok {
			return 0, false
		}
		v = v<<1 | b
	}
	return v, true
}

type vp9FrameInfo struct {
	Key    bool
	Width  int
	Height int
}

// parseVP9Frame reads the start of a VP9 uncompressed frame header. Width
// and Height are only set for key frames.
func parseVP9Frame(data []byte) (vp9FrameInfo, bool) {
	r := &bitReader{b: data}

	if marker, ok := r.bits(2); !ok || marker != 2 {
		return vp9FrameInfo{}, false
	}
	low, _ := r.bit()
	high, _ := r.bit()
	profile := high<<1 | low
	if profile == 3 {
		r.bit() // reserved_zero
	}

	showExisting, ok := r.bit()
	if !ok {
		return vp9FrameInfo{}, false
	}
	if showExisting == 1 {
		return vp9FrameInfo{}, true
	}

	frameType, ok := r.bit()
	if !ok {
		return vp9FrameInfo{}, false
	}
	if frameType != 0 {
		return vp9FrameInfo{}, true
	}

	info := vp9FrameInfo{Key: true}
	r.bits(2) // show_frame, error_resilient_mode

	if sync, ok := r.bits(24); !ok || sync != 0x498342 {
		return info, true
	}

	// color_config
	if profile >= 2 {
		r.bit() // ten_or_twelve_bit
	}
	colorSpace, ok := r.bits(3)
	if !ok {
		return info, true
	}
	const csRGB = 7
	if colorSpace != csRGB {
		r.bit() // color_range
		if profile == 1 || profile == 3 {
			r.bits(3) // subsampling_x, subsampling_y, reserved_zero
		}
	} else if profile == 1 || profile == 3 {
		r.bit() // reserved_zero
	}

	w, ok1 := r.bits(16)
	h, ok2 := r.bits(16)
	if ok1 && ok2 {
		info.Width = w + 1
		info.Height = h + 1
	}
	return info, true
}
