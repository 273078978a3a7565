package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/segmentcast/internal/api/models"
)

func (s *Server) registerPresetRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-presets",
		Method:      http.MethodGet,
		Path:        "/api/presets",
		Summary:     "List Presets",
		Description: "List encode presets ordered by output size",
		Tags:        []string{"presets"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.PresetListResponse, error) {
		list := s.options.Presets.List()
		return &models.PresetListResponse{
			Body: models.PresetListData{Presets: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-preset",
		Method:      http.MethodGet,
		Path:        "/api/presets/{name}",
		Summary:     "Get Preset",
		Tags:        []string{"presets"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.PresetNameInput) (*models.PresetResponse, error) {
		p, err := s.options.Presets.Get(input.Name)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.PresetResponse{Body: p}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "put-preset",
		Method:      http.MethodPut,
		Path:        "/api/presets/{name}",
		Summary:     "Create or Replace Preset",
		Description: "Validate and store a preset. The presets file is rewritten.",
		Tags:        []string{"presets"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.PutPresetRequest) (*models.PresetResponse, error) {
		p := input.Body
		p.Name = input.Name
		if err := s.options.Presets.Put(p); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return &models.PresetResponse{Body: p}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-preset",
		Method:        http.MethodDelete,
		Path:          "/api/presets/{name}",
		Summary:       "Delete Preset",
		Tags:          []string{"presets"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404},
	}, func(_ context.Context, input *models.PresetNameInput) (*struct{}, error) {
		if err := s.options.Presets.Delete(input.Name); err != nil {
			return nil, toHTTPError(err)
		}
		return nil, nil
	})
}
