package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Validation test clip.
const (
	ValidationDuration   = 2
	ValidationResolution = "640x480"
)

// ValidateEncoder encodes a short synthetic clip with the encoder's
// production settings and checks that output was produced.
func ValidateEncoder(ctx context.Context, binary string, spec EncoderSpec) error {
	tempDir, err := os.MkdirTemp("", "encoder_validate")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	testFile := filepath.Join(tempDir, "test_"+spec.Name+".ivf")

	args := append([]string{"-hide_banner", "-nostats"}, spec.GlobalArgs...)
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc2=duration=%d:size=%s:rate=30", ValidationDuration, ValidationResolution),
		"-t", fmt.Sprint(ValidationDuration),
	)
	if spec.VideoFilters != "" {
		args = append(args, "-vf", spec.VideoFilters)
	}
	args = append(args, "-c:v", spec.Name, "-b:v", "1000000")
	args = append(args, spec.OutputParams...)
	args = append(args, "-f", "ivf", "-y", testFile)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("validation command timed out")
		}
		return fmt.Errorf("%w: %s", err, lastLine(stderr.String()))
	}

	info, err := os.Stat(testFile)
	if err != nil || info.Size() <= 1000 {
		return fmt.Errorf("output file missing or too small")
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
