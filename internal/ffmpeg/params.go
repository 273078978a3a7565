package ffmpeg

import (
	"strconv"
	"strings"
)

// Pipe endpoints used by every session.
const (
	PipeIn  = "pipe:0"
	PipeOut = "pipe:1"
)

// Base returns the standard leading arguments.
func Base(binary string) []string {
	return []string{binary, "-hide_banner", "-nostats", "-loglevel", "level+warning"}
}

// Params describes one stdin-to-stdout ffmpeg session.
type Params struct {
	Binary string

	GlobalArgs []string // -vaapi_device, etc.

	// Input
	InputFormat      string // h264, ivf, rawvideo
	InputPixelFormat string // rawvideo only
	InputSize        string // rawvideo only, WxH
	InputRate        string // rawvideo only

	// Video
	VideoFilters string
	OutputSize   string // -s WxH on the output
	Encoder      string // empty for raw output
	Bitrate      int64
	GOP          int
	OutputParams []string // encoder specific, flag/value pairs

	// Output
	OutputFormat      string // rawvideo, ivf
	OutputPixelFormat string

	Options []OptionType
}

// BuildArgs builds the argv for p.
func BuildArgs(p *Params) []string {
	binary := p.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	args := Base(binary)
	args = append(args, p.GlobalArgs...)

	for _, o := range p.Options {
		args = append(args, o.inputArgs()...)
	}
	if p.InputFormat != "" {
		args = append(args, "-f", p.InputFormat)
	}
	if p.InputPixelFormat != "" {
		args = append(args, "-pix_fmt", p.InputPixelFormat)
	}
	if p.InputSize != "" {
		args = append(args, "-s", p.InputSize)
	}
	if p.InputRate != "" {
		args = append(args, "-r", p.InputRate)
	}
	args = append(args, "-i", PipeIn)

	if p.VideoFilters != "" {
		args = append(args, "-vf", p.VideoFilters)
	}
	if p.OutputSize != "" {
		args = append(args, "-s", p.OutputSize)
	}

	if p.Encoder != "" {
		args = append(args, "-c:v", p.Encoder)
		if p.Bitrate > 0 {
			args = append(args, "-b:v", strconv.FormatInt(p.Bitrate, 10))
		}
		if p.GOP > 0 {
			args = append(args, "-g", strconv.Itoa(p.GOP))
		}
		args = append(args, p.OutputParams...)
	}

	for _, o := range p.Options {
		if opt, ok := lookupOption(o); ok && opt.SoftwareVPX && !strings.HasPrefix(p.Encoder, "libvpx") {
			continue
		}
		args = append(args, o.outputArgs()...)
	}

	if p.OutputPixelFormat != "" {
		args = append(args, "-pix_fmt", p.OutputPixelFormat)
	}
	if p.OutputFormat != "" {
		args = append(args, "-f", p.OutputFormat)
	}
	return append(args, PipeOut)
}

// Size formats a WxH argument.
func Size(width, height int) string {
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}
