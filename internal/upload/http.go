package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/version"
)

// Multipart form fields understood by the segment receiver.
const (
	FieldFilename = "filename"
	FieldFile     = "fileBuffer"
)

// HTTP posts each segment as a multipart form to a remote endpoint.
type HTTP struct {
	URL    string
	Client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP uploader for url.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		logger: logging.GetLogger("upload"),
	}
}

// UploadFile sends one segment. Any non-2xx response is an error.
func (u *HTTP) UploadFile(ctx context.Context, file File) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField(FieldFilename, file.Filename); err != nil {
		return fmt.Errorf("failed to write form field: %w", err)
	}
	part, err := form.CreateFormFile(FieldFile, file.Filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	u.logger.Debug("Segment uploaded",
		"filename", file.Filename,
		"bytes", len(file.Data),
		"duration", time.Since(start))
	return nil
}
