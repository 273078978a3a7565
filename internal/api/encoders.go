package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/segmentcast/internal/api/models"
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/presets"
	"github.com/smazurov/segmentcast/internal/process"
)

func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "List the VP9 encoders codec sessions may select, with the result of the last validate-encoders run",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.EncoderListResponse, error) {
		var validation *presets.ValidationResults
		if s.options.ValidationPath != "" {
			// a missing or unreadable file just means "never validated"
			validation, _ = presets.LoadValidation(s.options.ValidationPath)
		}

		list := make([]models.EncoderInfo, 0, len(ffmpeg.Encoders))
		for _, spec := range ffmpeg.Encoders {
			info := models.EncoderInfo{EncoderSpec: spec}
			if validation != nil {
				ok := slices.Contains(validation.VP9.Working, spec.Name)
				info.Validated = &ok
			}
			list = append(list, info)
		}
		return &models.EncoderListResponse{
			Body: models.EncoderListData{Encoders: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-ffmpeg-options",
		Method:      http.MethodGet,
		Path:        "/api/options",
		Summary:     "Get FFmpeg Options",
		Description: "Get the ffmpeg behaviour flags codec sessions apply",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		return &models.OptionsResponse{
			Body: models.OptionsData{Options: ffmpeg.AllOptions},
		}, nil
	})
}

func (s *Server) registerProcessRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/api/processes",
		Summary:     "List Codec Sessions",
		Description: "List live ffmpeg decoder and encoder processes with their CPU and memory use",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.ProcessListResponse, error) {
		body := models.ProcessListData{Processes: []process.Info{}}
		if s.options.Registry != nil {
			body.Processes = s.options.Registry.ListWithUsage(ctx)
		}
		body.Count = len(body.Processes)
		if host, err := process.Host(ctx); err == nil {
			body.Host = &host
		}
		return &models.ProcessListResponse{Body: body}, nil
	})
}
