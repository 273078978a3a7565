// Package api serves the segmentcast HTTP API with Huma v2.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/segmentcast/internal/api/models"
	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/jobs"
	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/presets"
	"github.com/smazurov/segmentcast/internal/process"
	"github.com/smazurov/segmentcast/internal/upload"
	"github.com/smazurov/segmentcast/internal/version"
)

// JobService starts and tracks transcodes. *jobs.Manager satisfies it.
type JobService interface {
	Submit(req jobs.Request) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
	Cancel(ctx context.Context, id string) error
	Preview(id string) ([]byte, time.Duration, error)
}

// PresetStore is the preset storage the API edits. *presets.Store satisfies it.
type PresetStore interface {
	Get(name string) (presets.Preset, error)
	List() []presets.Preset
	Put(p presets.Preset) error
	Delete(name string) error
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Jobs     JobService
	Presets  PresetStore
	Codecs   presets.SupportChecker // optional, rejects unsupported requests up front
	EventBus *events.Bus
	Registry *process.Registry // optional, lists live codec sessions

	// SegmentStore receives segments posted to /api/segments. Nil disables
	// the receiver.
	SegmentStore upload.Uploader
	// ValidationPath is read by /api/encoders to mark validated encoders.
	ValidationPath string
	FFmpegVersion  string

	CORS              CORSConfig
	PrometheusHandler http.Handler // optional
}

// Server is the HTTP API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API and registers all routes on a fresh mux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := opts.CORS
	if corsConfig.AllowOrigin == "" {
		corsConfig = DefaultCORSConfig()
	}
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("segmentcast API", version.Version)
	config.Info.Description = "MP4 to segmented VP9 WebM transcoding and upload"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
// SSE streams are cut off when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application and ffmpeg version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:       info.Version,
				GitCommit:     info.GitCommit,
				BuildDate:     info.BuildDate,
				BuildID:       info.BuildID,
				GoVersion:     info.GoVersion,
				Modified:      info.Modified,
				Platform:      info.Platform,
				FFmpegVersion: s.options.FFmpegVersion,
			},
		}, nil
	})

	s.registerTranscodeRoutes()
	s.registerPresetRoutes()
	s.registerEncoderRoutes()
	s.registerProcessRoutes()
	s.registerLoggingRoutes()
	s.registerSegmentRoutes()
	s.registerSSERoutes()
	s.registerPreviewSocket()
}

// withAuth returns the security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

// basicAuthMiddleware checks HTTP basic credentials on operations that
// declare a security requirement. SSE clients may pass base64
// "user:pass" in the auth query parameter instead of the header.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	deny := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="segmentcast"`)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		if msg, err := checkCredentials(ctx.Header("Authorization"), ctx.Query("auth"), username, password); msg != "" {
			if err != nil {
				deny(ctx, msg, err)
			} else {
				deny(ctx, msg)
			}
			return
		}

		next(ctx)
	}
}

// checkCredentials validates a basic Authorization header, falling back to
// base64 "user:pass" in the auth query value. It returns an empty message
// when the credentials match.
func checkCredentials(header, query, username, password string) (string, error) {
	encoded := query
	if header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "Invalid authentication type", nil
		}
		encoded = header[len(prefix):]
	}
	if encoded == "" {
		return "Authentication required", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "Invalid credentials format", err
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "Invalid credentials format", nil
	}
	if user != username || pass != password {
		return "Invalid credentials", nil
	}
	return "", nil
}
