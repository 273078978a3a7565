package presets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/media"
)

// DefaultValidationPath is where validate-encoders writes its results.
const DefaultValidationPath = "validated_encoders.toml"

// EncoderValidation lists encoder names that passed or failed a test encode.
type EncoderValidation struct {
	Working []string `toml:"working" json:"working"`
	Failed  []string `toml:"failed" json:"failed"`
}

// PresetSupport records whether the codec factory accepts a preset.
type PresetSupport struct {
	Supported bool   `toml:"supported" json:"supported"`
	Error     string `toml:"error,omitempty" json:"error,omitempty"`
}

// ValidationResults is the content of the validation file.
type ValidationResults struct {
	Timestamp      string                   `toml:"timestamp" json:"timestamp"`
	FFmpegVersion  string                   `toml:"ffmpeg_version" json:"ffmpeg_version"`
	TestDuration   int                      `toml:"test_duration" json:"test_duration"`
	TestResolution string                   `toml:"test_resolution" json:"test_resolution"`
	VP9            EncoderValidation        `toml:"vp9" json:"vp9"`
	Presets        map[string]PresetSupport `toml:"presets" json:"presets"`
}

// EncoderCheck test-encodes with one encoder.
type EncoderCheck func(ctx context.Context, binary string, spec ffmpeg.EncoderSpec) error

// SupportChecker answers whether an encode configuration can be served.
type SupportChecker interface {
	IsSupported(ctx context.Context, cfg media.EncoderConfig) (bool, error)
}

// ValidateEncoders runs check for every spec. onResult, when set, is called
// after each spec.
func ValidateEncoders(ctx context.Context, binary string, specs []ffmpeg.EncoderSpec, check EncoderCheck, onResult func(spec ffmpeg.EncoderSpec, err error)) EncoderValidation {
	if check == nil {
		check = ffmpeg.ValidateEncoder
	}
	out := EncoderValidation{Working: []string{}, Failed: []string{}}
	for _, spec := range specs {
		err := check(ctx, binary, spec)
		if err != nil {
			out.Failed = append(out.Failed, spec.Name)
		} else {
			out.Working = append(out.Working, spec.Name)
		}
		if onResult != nil {
			onResult(spec, err)
		}
	}
	return out
}

// CheckPresets asks checker about every preset.
func CheckPresets(ctx context.Context, checker SupportChecker, presets []Preset) map[string]PresetSupport {
	out := make(map[string]PresetSupport, len(presets))
	for _, p := range presets {
		ok, err := checker.IsSupported(ctx, p.EncoderConfig())
		res := PresetSupport{Supported: ok && err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		out[p.Name] = res
	}
	return out
}

// SaveValidation writes results to path.
func SaveValidation(path string, results *ValidationResults) error {
	data, err := toml.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal validation results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create validation directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write validation results: %w", err)
	}
	return nil
}

// LoadValidation reads results from path.
func LoadValidation(path string) (*ValidationResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results ValidationResults
	if err := toml.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse validation results: %w", err)
	}
	return &results, nil
}
