package media

import "fmt"

// Encode defaults applied when a preset leaves a field empty.
const (
	DefaultCodec     = "vp09.00.10.08"
	DefaultBitrate   = 10_000_000
	DefaultFramerate = 30
)

// Resolution is a named output size.
type Resolution struct {
	Name   string
	Width  int
	Height int
}

// Resolutions lists the built-in output sizes.
var Resolutions = []Resolution{
	{Name: "240p", Width: 320, Height: 240},
	{Name: "480p", Width: 640, Height: 480},
	{Name: "720p", Width: 1280, Height: 720},
}

// LookupResolution finds a built-in resolution by name.
func LookupResolution(name string) (Resolution, error) {
	for _, r := range Resolutions {
		if r.Name == name {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("unknown resolution %q", name)
}

// DefaultEncoderConfig returns the encode configuration for a built-in resolution.
func DefaultEncoderConfig(res Resolution) EncoderConfig {
	return EncoderConfig{
		Codec:                DefaultCodec,
		Width:                res.Width,
		Height:               res.Height,
		Bitrate:              DefaultBitrate,
		Framerate:            DefaultFramerate,
		HardwareAcceleration: PreferSoftware,
	}
}

// WithDefaults fills zero fields with the package defaults.
func (c EncoderConfig) WithDefaults() EncoderConfig {
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	if c.Bitrate == 0 {
		c.Bitrate = DefaultBitrate
	}
	if c.Framerate == 0 {
		c.Framerate = DefaultFramerate
	}
	if c.HardwareAcceleration == "" {
		c.HardwareAcceleration = PreferSoftware
	}
	return c
}
