package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/pipeline"
	"github.com/smazurov/segmentcast/internal/preview"
)

// CreateTranscodeCmd creates the one-shot transcode command.
func CreateTranscodeCmd(app Provider) *cobra.Command {
	var (
		presetName string
		snapshot   string
	)

	cmd := &cobra.Command{
		Use:   "transcode <file.mp4>",
		Short: "Transcode one MP4 file and upload its segments",
		Long: `Transcode the H.264 video track of an MP4 file to VP9 WebM and upload it
in segments named <stem>-<n>-144p.webm. The command exits once the last
segment has been uploaded, or on the first error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.get()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			encode, err := a.resolveEncode(presetName)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, stop := signalContext()
			defer stop()

			stats := preview.NewStats("", 5*time.Second)
			sinks := []func(*media.Frame){stats.Render}
			if snapshot != "" {
				every := a.SnapshotEvery
				if every <= 0 {
					every = 30
				}
				sinks = append(sinks, preview.NewSnapshot(every, preview.WithFile(snapshot)).Render)
			}

			start := time.Now()
			state, err := a.Runner.Run(ctx, pipeline.Options{
				File:         f,
				EncodeConfig: encode,
				RenderFrame:  preview.Chain(sinks...),
				SendMessage: func(msg pipeline.Message) {
					a.Logger.Info("Run finished", "status", msg.Status)
				},
			})
			if err != nil {
				if kind, ok := media.KindOf(err); ok {
					return fmt.Errorf("transcode failed (%s): %w", kind, err)
				}
				return fmt.Errorf("transcode failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d segments, %d preview frames in %s\n",
				state.Stem, state.SegmentCounter, stats.Frames(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&presetName, "preset", "240p", "Encode preset")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Write a WebP preview snapshot to this file while running")
	return cmd
}
