package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/segmentcast/internal/ingest"
	"github.com/smazurov/segmentcast/internal/jobs"
)

// CreateWatchCmd creates the drop directory command.
func CreateWatchCmd(app Provider) *cobra.Command {
	var (
		presetName string
		settle     time.Duration
		existing   bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Transcode MP4 files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
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

			ctx, stop := signalContext()
			defer stop()

			manager := jobs.NewManager(jobs.Options{
				Runner:        a.Runner,
				Uploader:      a.Uploader,
				SnapshotEvery: a.SnapshotEvery,
				StatsInterval: 10 * time.Second,
			})

			submit := func(path string) {
				job, err := manager.Submit(jobs.Request{Path: path, Preset: presetName, Encode: encode})
				if err != nil {
					a.Logger.Error("Failed to start transcode", "file", path, "error", err)
					return
				}
				go func() {
					done, err := manager.Wait(ctx, job.ID)
					if err != nil {
						return
					}
					a.Logger.Info("Transcode finished",
						"file", done.File,
						"state", done.State,
						"segments", len(done.Segments),
						"error", done.Error)
				}()
			}

			opts := []ingest.Option{ingest.WithSettle(settle)}
			if existing {
				opts = append(opts, ingest.WithExisting())
			}
			watcher := ingest.New(args[0], submit, opts...)
			if err := watcher.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			a.Logger.Info("Stopping watch")
			_ = watcher.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return manager.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&presetName, "preset", "240p", "Encode preset")
	cmd.Flags().DurationVar(&settle, "settle", ingest.DefaultSettle, "Time a file must stop growing before it is transcoded")
	cmd.Flags().BoolVar(&existing, "existing", false, "Also transcode files already in the directory")
	return cmd
}
