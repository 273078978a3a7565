package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/smazurov/segmentcast/internal/media"
)

// Codec families understood by the sessions.
const (
	FamilyH264 = "h264"
	FamilyVP9  = "vp9"
)

// CodecFamily maps a WebCodecs codec string to its family.
func CodecFamily(codec string) (string, bool) {
	c := strings.ToLower(codec)
	switch {
	case c == "vp9" || strings.HasPrefix(c, "vp09."):
		return FamilyVP9, true
	case c == "avc1" || strings.HasPrefix(c, "avc1.") || strings.HasPrefix(c, "avc3."):
		return FamilyH264, true
	}
	return "", false
}

// inputFormat returns the ffmpeg demuxer a decoder feeds for a family.
func inputFormat(family string) string {
	if family == FamilyVP9 {
		return "ivf"
	}
	return "h264"
}

// EncoderSpec is an ffmpeg encoder and the settings it needs in production.
type EncoderSpec struct {
	Name         string   `json:"name" toml:"name"`
	Family       string   `json:"family" toml:"family"`
	Hardware     bool     `json:"hardware" toml:"hardware"`
	Description  string   `json:"description" toml:"description"`
	GlobalArgs   []string `json:"global_args,omitempty" toml:"global_args,omitempty"`
	VideoFilters string   `json:"video_filters,omitempty" toml:"video_filters,omitempty"`
	OutputParams []string `json:"output_params,omitempty" toml:"output_params,omitempty"`
}

// Encoders lists every encoder a session may use, software first.
var Encoders = []EncoderSpec{
	{
		Name:        "libvpx-vp9",
		Family:      FamilyVP9,
		Description: "libvpx VP9 software encoder",
	},
	{
		Name:         "vp9_vaapi",
		Family:       FamilyVP9,
		Hardware:     true,
		Description:  "VAAPI (Video Acceleration API) - Intel/AMD hardware acceleration on Linux",
		GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
		VideoFilters: "format=nv12,hwupload",
	},
	{
		Name:         "vp9_qsv",
		Family:       FamilyVP9,
		Hardware:     true,
		Description:  "Intel Quick Sync Video",
		GlobalArgs:   []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
		VideoFilters: "hwupload=extra_hw_frames=64,format=qsv",
		OutputParams: []string{"-preset", "veryfast"},
	},
}

// Candidates returns the encoders for cfg in preference order.
func Candidates(cfg media.EncoderConfig) []EncoderSpec {
	family, ok := CodecFamily(cfg.Codec)
	if !ok {
		return nil
	}

	var software, hardware []EncoderSpec
	for _, e := range Encoders {
		if e.Family != family {
			continue
		}
		if e.Hardware {
			hardware = append(hardware, e)
		} else {
			software = append(software, e)
		}
	}

	if cfg.HardwareAcceleration == media.PreferHardware {
		return append(hardware, software...)
	}
	return append(software, hardware...)
}

// ListEncoders returns the names of the encoders compiled into ffmpeg.
func ListEncoders(ctx context.Context, binary string) (map[string]bool, error) {
	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-nostats", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list encoders: %w", err)
	}
	return parseEncoderList(out), nil
}

// parseEncoderList parses "ffmpeg -encoders" output. Entries follow a
// dashed separator line as " V....D name  description".
func parseEncoderList(out []byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	listing := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !listing {
			listing = strings.HasPrefix(line, "---")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			names[fields[1]] = true
		}
	}
	return names
}

// Version returns the ffmpeg version string, or "unknown".
func Version(ctx context.Context, binary string) string {
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "unknown"
	}
	// first line: "ffmpeg version 7.1.1 Copyright..."
	line, _, _ := strings.Cut(string(out), "\n")
	if parts := strings.Fields(line); len(parts) >= 3 {
		return parts[2]
	}
	return "unknown"
}
