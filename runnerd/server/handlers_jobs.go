package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Oudwins/comfyrunner/internals/catalog"
	"github.com/Oudwins/comfyrunner/internals/comfy"
	"github.com/Oudwins/comfyrunner/internals/history"
	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/naming"
	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/taskstate"
	"github.com/Oudwins/comfyrunner/internals/workflow"

	z "github.com/Oudwins/zog"
)

const (
	timeLayout       = time.RFC3339
	defaultListLimit = 50
)

func (s *Server) HandlerSubmitJob(w http.ResponseWriter, r *http.Request) {
	logger := logbuf.FromContext(r.Context())
	var request schemas.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	if issues := schemas.SubmitSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	params, fieldErrs, err := s.resolveParams(request)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}
	if len(fieldErrs) > 0 {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", fieldErrs), Render.Status(http.StatusBadRequest))
		return
	}

	template, roles, err := s.Base.Template()
	if err != nil {
		logger.Error("no workflow template", slog.Any("error", err))
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	coord := s.Base.Coordinator
	if !coord.Store().IsLastSaved() {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotSaved, "image not saved yet!", nil), Render.Status(http.StatusConflict))
		return
	}

	jobID, err := coord.Submit(context.WithoutCancel(r.Context()), template, roles, params)
	if err != nil {
		logger.Error("submit failed", slog.Any("error", err))
		status, code := http.StatusInternalServerError, JsonResponseErroCodeInternal
		var apiErr *comfy.APIError
		if errors.As(err, &apiErr) || errors.Is(err, comfy.ErrMalformedResponse) {
			status, code = http.StatusBadGateway, JsonResponseErrorCodeUpstream
		}
		RenderJSON(w, r, JsonResponseError(code, err.Error(), nil), Render.Status(status))
		return
	}

	logger.Info("job submitted", slog.String("job_id", jobID), slog.Int64("seed", params.Seed))
	RenderJSON(w, r, schemas.NewJobSummary(jobID, params), Render.Status(http.StatusAccepted))
}

// resolveParams fills in everything the request leaves to the server: the
// sampler preset, the resolution, the seed and the filename prefix.
func (s *Server) resolveParams(request schemas.SubmitRequest) (workflow.Params, map[string][]string, error) {
	fieldErrs := map[string][]string{}
	config := s.Base.Config

	presetName := request.Preset
	if presetName == "" {
		presetName = config.Prompt.DefaultPreset
	}
	presets, err := s.Base.Presets()
	if err != nil {
		return workflow.Params{}, nil, err
	}
	preset, ok := catalog.Find(presets, presetName)
	if !ok {
		fieldErrs["preset"] = []string{fmt.Sprintf("unknown preset %q", presetName)}
	}

	width, height := request.Width, request.Height
	if request.Resolution != "" {
		res, err := catalog.ParseResolution(request.Resolution)
		if err != nil {
			fieldErrs["resolution"] = []string{err.Error()}
		}
		width, height = res.Width, res.Height
	}

	seed := request.Seed
	if request.SeedMode == schemas.SeedRandom {
		seed = workflow.RandomSeed()
	}

	prefix := naming.FilenamePrefix(request.FilenamePrefix)
	if prefix == "" {
		prefix = workflow.DatePrefix(s.now(), config.Prompt.Location())
	}

	return workflow.Params{
		Positive:       request.Positive,
		Negative:       request.Negative,
		Width:          width,
		Height:         height,
		Steps:          request.Steps,
		CFG:            request.CFG,
		SamplerName:    preset.Sampler,
		Scheduler:      preset.Scheduler,
		Denoise:        request.Denoise,
		Seed:           seed,
		ModelName:      request.Checkpoint,
		ClipSkip:       request.ClipSkip,
		FilenamePrefix: prefix,
	}, fieldErrs, nil
}

func (s *Server) HandlerListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "limit must be a positive integer", nil), Render.Status(http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	jobs, err := s.Base.History.List(r.Context(), limit)
	if err != nil {
		logbuf.FromContext(r.Context()).Error("failed to list jobs", slog.Any("error", err))
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read job history", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	if jobs == nil {
		jobs = []history.Job{}
	}
	RenderJSON(w, r, jobs)
}

// HandlerJob returns one job. With ?wait=<duration> it first blocks until
// that job of the current session is saved.
func (s *Server) HandlerJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait <= 0 {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "wait must be a positive duration", nil), Render.Status(http.StatusBadRequest))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		record, err := s.Base.Coordinator.WaitJob(ctx, jobID)
		switch {
		case err == nil:
			RenderJSON(w, r, jobStatus(record))
		case errors.Is(err, taskstate.ErrUnknownJob):
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "job is not in the current session", nil), Render.Status(http.StatusNotFound))
		case errors.Is(err, context.DeadlineExceeded):
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeTimeout, "job was not saved in time", nil), Render.Status(http.StatusRequestTimeout))
		default:
			RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		}
		return
	}

	if record, ok := s.Base.Coordinator.Store().Get(jobID); ok {
		RenderJSON(w, r, jobStatus(record))
		return
	}

	job, err := s.Base.History.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "job not found", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read job", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, schemas.JobStatus{
		JobID:        job.JobID,
		Generated:    job.Status == history.StatusGenerated || job.Status == history.StatusSaved,
		Saved:        job.Status == history.StatusSaved,
		Paths:        job.Paths,
		RegisteredAt: job.CreatedAt.Format(timeLayout),
	})
}

func (s *Server) HandlerLastSaved(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, schemas.LastSavedResponse{Saved: s.Base.Coordinator.Store().IsLastSaved()})
}

// HandlerLatest returns the newest saved artifact. With ?wait=<duration> it
// first blocks on the release gate for at most that long.
func (s *Server) HandlerLatest(w http.ResponseWriter, r *http.Request) {
	coord := s.Base.Coordinator
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		path, err := coord.Store().LatestPath()
		s.renderLatest(w, r, path, err)
		return
	}

	wait, err := time.ParseDuration(raw)
	if err != nil || wait <= 0 {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "wait must be a positive duration", nil), Render.Status(http.StatusBadRequest))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	path, err := coord.WaitLatest(ctx)
	s.renderLatest(w, r, path, err)
}

func (s *Server) renderLatest(w http.ResponseWriter, r *http.Request, path string, err error) {
	switch {
	case err == nil:
		RenderJSON(w, r, schemas.LatestResponse{Path: path})
	case errors.Is(err, taskstate.ErrNoArtifact):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "no saved image yet", nil), Render.Status(http.StatusNotFound))
	case errors.Is(err, context.DeadlineExceeded):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeTimeout, "no image was saved in time", nil), Render.Status(http.StatusRequestTimeout))
	default:
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
	}
}

func (s *Server) HandlerLatestImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.Base.Coordinator.Store().LatestPath()
	if err != nil {
		s.renderLatest(w, r, path, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) HandlerSessionJobs(w http.ResponseWriter, r *http.Request) {
	records := s.Base.Coordinator.Store().List()
	out := make([]schemas.JobStatus, 0, len(records))
	for _, record := range records {
		out = append(out, jobStatus(record))
	}
	RenderJSON(w, r, out)
}

func jobStatus(record taskstate.Record) schemas.JobStatus {
	paths := record.Paths
	if paths == nil {
		paths = []string{}
	}
	return schemas.JobStatus{
		JobID:        record.JobID,
		Generated:    record.Generated,
		Saved:        record.Saved,
		Paths:        paths,
		RegisteredAt: record.RegisteredAt.Format(timeLayout),
	}
}
