package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/presets"
)

// CreateValidateEncodersCmd creates the validate-encoders command.
func CreateValidateEncodersCmd(app Provider) *cobra.Command {
	var (
		output string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "validate-encoders",
		Short: "Validate VP9 encoder availability",
		Long: `Test-encode with every VP9 encoder segmentcast knows about, then check
each preset against the codec factory. Results are written to a TOML file
read by the encoders API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.get()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			if output == "" {
				output = a.ValidationFile
			}
			binary := a.Codecs.Binary()

			results := &presets.ValidationResults{
				Timestamp:      time.Now().Format(time.RFC3339),
				FFmpegVersion:  ffmpeg.Version(ctx, binary),
				TestDuration:   ffmpeg.ValidationDuration,
				TestResolution: ffmpeg.ValidationResolution,
			}

			results.VP9 = presets.ValidateEncoders(ctx, binary, ffmpeg.Encoders, nil, func(spec ffmpeg.EncoderSpec, err error) {
				if quiet {
					return
				}
				if err != nil {
					fmt.Fprintf(out, "%s: FAILED (%v)\n", spec.Name, err)
				} else {
					fmt.Fprintf(out, "%s: WORKING\n", spec.Name)
				}
			})
			results.Presets = presets.CheckPresets(ctx, a.Codecs, a.Presets.List())

			if err := presets.SaveValidation(output, results); err != nil {
				return err
			}
			printValidationSummary(out, results)
			fmt.Fprintf(out, "\nResults saved to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file for validation results (defaults to the validation-file option)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-encoder output")
	return cmd
}

func printValidationSummary(w io.Writer, results *presets.ValidationResults) {
	fmt.Fprintln(w, "\n=== VALIDATION SUMMARY ===")
	fmt.Fprintf(w, "ffmpeg %s\n", results.FFmpegVersion)
	fmt.Fprintf(w, "VP9 encoders working: %d\n", len(results.VP9.Working))
	if len(results.VP9.Working) > 0 {
		fmt.Fprintf(w, "  Working: %s\n", strings.Join(results.VP9.Working, ", "))
	}
	if len(results.VP9.Failed) > 0 {
		fmt.Fprintf(w, "  Failed: %s\n", strings.Join(results.VP9.Failed, ", "))
	}

	for _, name := range slices.Sorted(maps.Keys(results.Presets)) {
		support := results.Presets[name]
		status := "supported"
		if !support.Supported {
			status = "unsupported"
			if support.Error != "" {
				status += " (" + support.Error + ")"
			}
		}
		fmt.Fprintf(w, "preset %s: %s\n", name, status)
	}
}
