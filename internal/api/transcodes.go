package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/segmentcast/internal/api/models"
	"github.com/smazurov/segmentcast/internal/jobs"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/presets"
)

// DefaultPreset is used when a transcode request names neither a preset
// nor an encode configuration.
const DefaultPreset = "240p"

func (s *Server) registerTranscodeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-transcode",
		Method:        http.MethodPost,
		Path:          "/api/transcodes",
		Summary:       "Start Transcode",
		Description:   "Start transcoding a server-side MP4 file to segmented VP9 WebM. The run continues in the background; poll the transcode or follow /api/events.",
		Tags:          []string{"transcodes"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 401, 404, 422, 503},
	}, func(ctx context.Context, input *models.CreateTranscodeRequest) (*models.TranscodeResponse, error) {
		req := jobs.Request{Path: input.Body.Path, Preset: input.Body.Preset}
		switch {
		case input.Body.Encode != nil:
			req.Encode = input.Body.Encode.WithDefaults()
			req.Preset = ""
		default:
			if req.Preset == "" {
				req.Preset = DefaultPreset
			}
			p, err := s.options.Presets.Get(req.Preset)
			if err != nil {
				return nil, toHTTPError(err)
			}
			req.Encode = p.EncoderConfig()
		}

		if s.options.Codecs != nil {
			ok, err := s.options.Codecs.IsSupported(ctx, req.Encode)
			if err != nil || !ok {
				return nil, toHTTPError(media.NewError(media.KindCodecConfigUnsupported, req.Encode.String(), err))
			}
		}

		job, err := s.options.Jobs.Submit(req)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TranscodeResponse{Body: job}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-transcodes",
		Method:      http.MethodGet,
		Path:        "/api/transcodes",
		Summary:     "List Transcodes",
		Description: "List all transcodes of this process, newest first",
		Tags:        []string{"transcodes"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.TranscodeListResponse, error) {
		list := s.options.Jobs.List()
		return &models.TranscodeListResponse{
			Body: models.TranscodeListData{Transcodes: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transcode",
		Method:      http.MethodGet,
		Path:        "/api/transcodes/{id}",
		Summary:     "Get Transcode",
		Description: "Get the state, uploaded segments and error of a transcode",
		Tags:        []string{"transcodes"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.TranscodeIDInput) (*models.TranscodeResponse, error) {
		job, err := s.options.Jobs.Get(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TranscodeResponse{Body: job}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancel-transcode",
		Method:        http.MethodDelete,
		Path:          "/api/transcodes/{id}",
		Summary:       "Cancel Transcode",
		Description:   "Cancel a running transcode and wait for its sessions to close",
		Tags:          []string{"transcodes"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 409},
	}, func(ctx context.Context, input *models.TranscodeIDInput) (*struct{}, error) {
		if err := s.options.Jobs.Cancel(ctx, input.ID); err != nil {
			return nil, toHTTPError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transcode-preview",
		Method:      http.MethodGet,
		Path:        "/api/transcodes/{id}/preview",
		Summary:     "Preview Snapshot",
		Description: "Latest frame rendered by the preview stage, as WebP",
		Tags:        []string{"transcodes"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "WebP image",
				Content:     map[string]*huma.MediaType{"image/webp": {}},
			},
		},
	}, func(_ context.Context, input *models.TranscodeIDInput) (*models.PreviewResponse, error) {
		data, ts, err := s.options.Jobs.Preview(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.PreviewResponse{
			ContentType:  "image/webp",
			CacheControl: "no-store",
			Position:     ts.String(),
			Body:         data,
		}, nil
	})
}

// toHTTPError maps domain errors to HTTP status codes.
func toHTTPError(err error) error {
	if kind, ok := media.KindOf(err); ok {
		switch kind {
		case media.KindCodecConfigUnsupported:
			return huma.Error422UnprocessableEntity("encode configuration not supported", err)
		case media.KindUpload:
			return huma.Error502BadGateway("segment upload failed", err)
		default:
			return huma.Error500InternalServerError(string(kind), err)
		}
	}

	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, presets.ErrNotFound), errors.Is(err, jobs.ErrNoPreview):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return huma.Error404NotFound("input file not found", err)
	case errors.Is(err, jobs.ErrNotRunning):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, jobs.ErrShuttingDown):
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error400BadRequest(err.Error())
}
