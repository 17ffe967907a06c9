package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)
	r.Post("/shutdown", s.HandlerShutdown)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.HandlerSubmitJob)
		r.Get("/", s.HandlerListJobs)
		r.Get("/last-saved", s.HandlerLastSaved)
		r.Get("/latest", s.HandlerLatest)
		r.Get("/latest/image", s.HandlerLatestImage)
		r.Get("/{id}", s.HandlerJob)
	})
	r.Post("/session/reset", s.HandlerResetSession)
	r.Get("/session/jobs", s.HandlerSessionJobs)
	r.Get("/workers", s.HandlerWorkers)

	r.Get("/logs/ws", s.HandlerWebSocketLog)
	r.Get("/logs/server", s.HandlerServerLog)

	r.Get("/checkpoints", s.HandlerCheckpoints)
	r.Get("/resolutions", s.HandlerResolutions)
	r.Get("/presets", s.HandlerPresets)
	r.Method(http.MethodGet, "/metrics", s.Base.Metrics.Handler())
	return r
}
