package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/segmentcast/internal/jobs"
)

// previewPollInterval is how often a preview socket checks for a new
// snapshot.
const previewPollInterval = 250 * time.Millisecond

var previewUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// previewStatus is the final text message on a preview socket.
type previewStatus struct {
	ID    string     `json:"id"`
	State jobs.State `json:"state"`
	Error string     `json:"error,omitempty"`
}

// registerPreviewSocket serves /api/transcodes/{id}/preview/ws. Each new
// WebP snapshot is sent as a binary message; a JSON status text message
// follows once the transcode leaves the running state.
func (s *Server) registerPreviewSocket() {
	s.mux.HandleFunc("GET /api/transcodes/{id}/preview/ws", func(w http.ResponseWriter, r *http.Request) {
		if s.options.AuthUsername != "" && s.options.AuthPassword != "" {
			msg, _ := checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"), s.options.AuthUsername, s.options.AuthPassword)
			if msg != "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="segmentcast"`)
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}
		}

		id := r.PathValue("id")
		if _, err := s.options.Jobs.Get(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		conn, err := previewUpgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("Failed to upgrade preview socket", "job_id", id, "error", err)
			return
		}
		defer conn.Close()

		s.streamPreview(r, conn, id)
	})
}

func (s *Server) streamPreview(r *http.Request, conn *websocket.Conn, id string) {
	logger := s.logger.With("job_id", id)
	logger.Debug("Preview socket opened")

	// Drain client frames so close messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(previewPollInterval)
	defer ticker.Stop()

	last := time.Duration(-1)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			logger.Debug("Preview socket closed by client")
			return
		case <-ticker.C:
		}

		data, ts, err := s.options.Jobs.Preview(id)
		switch {
		case err == nil && ts != last:
			last = ts
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Debug("Preview socket write failed", "error", err)
				return
			}
		case err != nil && !errors.Is(err, jobs.ErrNoPreview):
			return
		}

		job, err := s.options.Jobs.Get(id)
		if err != nil {
			return
		}
		if job.State != jobs.StateRunning {
			_ = conn.WriteJSON(previewStatus{ID: job.ID, State: job.State, Error: job.Error})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.State)))
			return
		}
	}
}
