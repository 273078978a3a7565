package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/segmentcast/internal/api/models"
	"github.com/smazurov/segmentcast/internal/upload"
)

type segmentUploadInput struct {
	RawBody multipart.Form
}

// registerSegmentRoutes exposes the receiving side of the upload protocol so
// one instance can be the upload target of another.
func (s *Server) registerSegmentRoutes() {
	if s.options.SegmentStore == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID:   "upload-segment",
		Method:        http.MethodPost,
		Path:          "/api/segments",
		Summary:       "Receive Segment",
		Description:   "Accept a multipart segment upload with filename and fileBuffer fields",
		Tags:          []string{"segments"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 500},
	}, func(ctx context.Context, input *segmentUploadInput) (*models.SegmentResponse, error) {
		names := input.RawBody.Value[upload.FieldFilename]
		if len(names) == 0 {
			return nil, huma.Error400BadRequest("missing " + upload.FieldFilename + " field")
		}
		name, err := upload.SafeFilename(names[0])
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}

		files := input.RawBody.File[upload.FieldFile]
		if len(files) == 0 {
			return nil, huma.Error400BadRequest("missing " + upload.FieldFile + " field")
		}
		data, err := readPart(files[0])
		if err != nil {
			return nil, huma.Error400BadRequest("failed to read segment", err)
		}

		if err := s.options.SegmentStore.UploadFile(ctx, upload.File{Filename: name, Data: data}); err != nil {
			s.logger.Error("Failed to store segment", "filename", name, "error", err)
			return nil, huma.Error500InternalServerError("failed to store segment")
		}
		s.logger.Info("Segment received", "filename", name, "bytes", len(data))
		return &models.SegmentResponse{
			Body: models.SegmentData{Filename: name, Bytes: len(data)},
		}, nil
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
