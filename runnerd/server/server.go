package server

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/Oudwins/comfyrunner/runnerd/core"
	"github.com/Oudwins/comfyrunner/sdk"
)

type Server struct {
	Base   *core.BaseServer
	Logger *slog.Logger

	logAttrs   []slog.Attr
	httpServer *http.Server
	now        func() time.Time
	// submitMu makes the saved check and the submission one step.
	submitMu sync.Mutex
	stopOnce sync.Once
	stopped  chan struct{}
}

func New() *Server {
	return NewWithBase(core.New())
}

func NewWithBase(base *core.BaseServer) *Server {
	port := 0
	if base.Env != nil {
		port = base.Env.PORT
	}
	return &Server{
		Base:   base,
		Logger: base.Logger,
		logAttrs: []slog.Attr{
			slog.String("version", base.Config.Version),
			slog.Int("port", port),
		},
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

func (s *Server) SafeStart() error {
	if sdk.IsRunning(s.Base.Env.BASE_URL) {
		return nil
	}

	go func() {
		s.Logger.Info("starting server")
		err := s.Start()
		if err != nil {
			log.Fatal("[Comfyrunner] Failed to start server: " + err.Error())
		}
	}()

	if sdk.WaitForStart(s.Base.Env.BASE_URL, s.Logger) {
		return nil
	}

	return errors.New("Couldn't start server")
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Base.Env.LISTEN_ADDR)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	if err := s.Base.StartUpstream(); err != nil {
		s.Logger.Error("failed to start upstream process", slog.Any("error", err))
	}
	server := &http.Server{
		Handler: s.Router(),
	}
	s.httpServer = server
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		<-s.stopped
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then stops the job workers.
func (s *Server) Shutdown() {
	go s.shutdown()
}

func (s *Server) shutdown() {
	s.stopOnce.Do(func() {
		defer close(s.stopped)
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondLong)
		defer cancel()
		if s.httpServer == nil {
			s.Logger.Error("shutdown failed", "error", errors.New("server not initialized"))
		} else if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Logger.Error("shutdown failed", "error", err)
		}
		if err := s.Base.Close(ctx); err != nil {
			s.Logger.Error("shutdown failed", "error", err)
		}
	})
}
