package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/proclog"
	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/version"
)

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	RenderText(w, version.Version())
}

func (s *Server) HandlerShutdown(w http.ResponseWriter, r *http.Request) {
	RenderText(w, "shutting down")
	s.Shutdown()
}

func (s *Server) HandlerResetSession(w http.ResponseWriter, r *http.Request) {
	cleared := s.Base.Coordinator.Store().Len()
	s.Base.Coordinator.Reset()
	logbuf.FromContext(r.Context()).Info("session reset")
	RenderJSON(w, r, schemas.ResetResponse{Cleared: cleared})
}

func (s *Server) HandlerWorkers(w http.ResponseWriter, r *http.Request) {
	handles := s.Base.Coordinator.Supervisor().Handles()
	out := make([]schemas.WorkerStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, schemas.WorkerStatus{
			ID:        h.ID,
			Kind:      string(h.Kind),
			JobID:     h.JobID,
			StartedAt: h.StartedAt.Format(timeLayout),
		})
	}
	RenderJSON(w, r, out)
}

func (s *Server) HandlerWebSocketLog(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, schemas.LogsResponse{Text: s.Base.Coordinator.Log().Text()})
}

func (s *Server) HandlerServerLog(w http.ResponseWriter, r *http.Request) {
	text, err := s.Base.ProcLog.Tail(proclog.TailLines)
	if errors.Is(err, fs.ErrNotExist) {
		text, err = "", nil
	}
	if err != nil {
		logbuf.FromContext(r.Context()).Error("failed to read process log", slog.Any("error", err))
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read server log", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, schemas.LogsResponse{Text: text})
}

// HandlerCheckpoints answers 200 even when the directory is unreadable so
// forms can still render with an empty list.
func (s *Server) HandlerCheckpoints(w http.ResponseWriter, r *http.Request) {
	names, err := s.Base.Checkpoints()
	response := schemas.CheckpointsResponse{Checkpoints: names}
	if err != nil {
		response.Error = err.Error()
	}
	if response.Checkpoints == nil {
		response.Checkpoints = []string{}
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerResolutions(w http.ResponseWriter, r *http.Request) {
	resolutions, err := s.Base.Resolutions()
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, schemas.ResolutionsResponse{Resolutions: resolutions})
}

func (s *Server) HandlerPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.Base.Presets()
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, schemas.PresetsResponse{Presets: presets})
}
