package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/segmentcast/cmd"
	"github.com/smazurov/segmentcast/internal/api"
	"github.com/smazurov/segmentcast/internal/config"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/ingest"
	"github.com/smazurov/segmentcast/internal/jobs"
	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/metrics/exporters"
	"github.com/smazurov/segmentcast/internal/pipeline"
	"github.com/smazurov/segmentcast/internal/presets"
	"github.com/smazurov/segmentcast/internal/process"
	"github.com/smazurov/segmentcast/internal/upload"
	"github.com/smazurov/segmentcast/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Codec settings
	FfmpegBinary string `help:"ffmpeg binary used for codec sessions" default:"ffmpeg" toml:"codec.ffmpeg_binary" env:"CODEC_FFMPEG_BINARY"`

	// Upload settings
	UploadURL       string        `help:"Segment upload endpoint (multipart POST); empty writes to upload-dir" default:"" toml:"upload.url" env:"UPLOAD_URL"`
	UploadDir       string        `help:"Directory segments are written to when no upload URL is set" default:"segments" toml:"upload.dir" env:"UPLOAD_DIR"`
	UploadTimeout   time.Duration `help:"Per-segment upload timeout" default:"30s" toml:"upload.timeout" env:"UPLOAD_TIMEOUT"`
	UploadThreshold int           `help:"Segment size in bytes" default:"10485760" toml:"upload.threshold" env:"UPLOAD_THRESHOLD"`
	ReceiveDir      string        `help:"Accept segments on /api/segments into this directory" default:"" toml:"upload.receive_dir" env:"UPLOAD_RECEIVE_DIR"`

	// Presets settings
	PresetsFile    string `help:"Encode presets file" default:"presets.toml" toml:"presets.file" env:"PRESETS_FILE"`
	ValidationFile string `help:"Encoder validation results file" default:"validated_encoders.toml" toml:"presets.validation_file" env:"PRESETS_VALIDATION_FILE"`

	// Preview settings
	SnapshotEvery int `help:"Keep a WebP snapshot of every Nth preview frame (0 disables)" default:"30" toml:"preview.snapshot_every" env:"PREVIEW_SNAPSHOT_EVERY"`

	// Ingest settings
	IngestDir    string `help:"Transcode MP4 files dropped into this directory" default:"" toml:"ingest.dir" env:"INGEST_DIR"`
	IngestPreset string `help:"Preset used for ingested files" default:"240p" toml:"ingest.preset" env:"INGEST_PRESET"`

	// Metrics settings
	MetricsPrometheusEnabled bool `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool `help:"Publish run progress on /api/metrics" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingCodec    string `help:"Codec session logging level" default:"info" toml:"logging.codec" env:"LOGGING_CODEC"`
	LoggingFFmpeg   string `help:"ffmpeg stderr logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingUpload   string `help:"Upload logging level" default:"info" toml:"logging.upload" env:"LOGGING_UPLOAD"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHistory  int    `help:"Recent log records kept for /api/logs (0 disables)" default:"500" toml:"logging.history" env:"LOGGING_HISTORY"`
}

func main() {
	var cli humacli.CLI
	var app *cmd.App

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:   opts.LoggingLevel,
			Format:  opts.LoggingFormat,
			History: opts.LoggingHistory,
			Modules: map[string]string{
				"pipeline": opts.LoggingPipeline,
				"codec":    opts.LoggingCodec,
				"ffmpeg":   opts.LoggingFFmpeg,
				"upload":   opts.LoggingUpload,
				"api":      opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")
		logger.Info("Starting", "version", version.String())

		eventBus := events.New()
		registry := process.NewRegistry(logging.GetLogger("codec"))
		codecs := ffmpeg.NewFactory(ffmpeg.Options{
			Binary:   opts.FfmpegBinary,
			Registry: registry,
		})

		var uploader upload.Uploader
		if opts.UploadURL != "" {
			uploader = upload.NewHTTP(opts.UploadURL, opts.UploadTimeout)
		} else {
			dir, err := upload.NewDir(opts.UploadDir)
			if err != nil {
				logger.Error("Failed to prepare upload directory", "error", err)
				os.Exit(1)
			}
			uploader = dir
		}

		runner := pipeline.NewRunner(pipeline.Config{
			Codecs:    codecs,
			Uploader:  uploader,
			Events:    eventBus,
			Threshold: opts.UploadThreshold,
		})

		presetStore := presets.NewStore(opts.PresetsFile, logging.GetLogger("presets"))
		if loadErr := presetStore.Load(); loadErr != nil {
			logger.Warn("Failed to load presets, using built-ins", "path", opts.PresetsFile, "error", loadErr)
		}

		app = &cmd.App{
			Logger:         logger,
			Bus:            eventBus,
			Codecs:         codecs,
			Runner:         runner,
			Presets:        presetStore,
			Uploader:       uploader,
			ValidationFile: opts.ValidationFile,
			SnapshotEvery:  opts.SnapshotEvery,
		}

		// Everything below only runs for the server command.
		manager := jobs.NewManager(jobs.Options{
			Runner:        runner,
			Uploader:      uploader,
			SnapshotEvery: opts.SnapshotEvery,
			StatsInterval: 10 * time.Second,
		})

		apiOpts := &api.Options{
			AuthUsername:   opts.AuthUsername,
			AuthPassword:   opts.AuthPassword,
			Jobs:           manager,
			Presets:        presetStore,
			Codecs:         codecs,
			EventBus:       eventBus,
			Registry:       registry,
			ValidationPath: opts.ValidationFile,
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		var ingestWatcher *ingest.Watcher
		if opts.IngestDir != "" {
			ingestWatcher = ingest.New(opts.IngestDir, func(path string) {
				encode, err := presetStore.Get(opts.IngestPreset)
				if err != nil {
					logger.Error("Ingest preset unavailable", "preset", opts.IngestPreset, "error", err)
					return
				}
				if _, err := manager.Submit(jobs.Request{Path: path, Preset: opts.IngestPreset, Encode: encode.EncoderConfig()}); err != nil {
					logger.Error("Failed to start transcode", "file", path, "error", err)
				}
			})
		}

		var server *api.Server
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			apiOpts.FFmpegVersion = ffmpeg.Version(ctx, codecs.Binary())
			if opts.ReceiveDir != "" {
				store, err := upload.NewDir(opts.ReceiveDir)
				if err != nil {
					logger.Error("Failed to prepare receive directory", "error", err)
					os.Exit(1)
				}
				apiOpts.SegmentStore = store
			}
			server = api.NewServer(apiOpts)

			if watchErr := presetStore.Watch(eventBus); watchErr != nil {
				logger.Warn("Presets hot reload disabled", "error", watchErr)
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}
			if ingestWatcher != nil {
				if startErr := ingestWatcher.Start(ctx); startErr != nil {
					logger.Error("Failed to watch ingest directory", "dir", opts.IngestDir, "error", startErr)
					os.Exit(1)
				}
			}

			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if ingestWatcher != nil {
				_ = ingestWatcher.Stop()
			}
			if server != nil {
				if stopErr := server.Stop(shutdownCtx); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}

			// Cancel runs after the API stops accepting new ones.
			if stopErr := manager.Shutdown(shutdownCtx); stopErr != nil {
				logger.Warn("Runs still active at shutdown", "error", stopErr)
			}
			registry.StopAll()

			if sseExporter != nil {
				sseExporter.Stop()
			}
			_ = presetStore.Close()
			cancel()
		})
	})

	provider := func() *cmd.App { return app }
	cli.Root().AddCommand(cmd.CreateTranscodeCmd(provider))
	cli.Root().AddCommand(cmd.CreateWatchCmd(provider))
	cli.Root().AddCommand(cmd.CreateValidateEncodersCmd(provider))

	cli.Run()
}
