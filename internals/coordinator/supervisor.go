package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindListener Kind = "listener"
	KindResolver Kind = "resolver"
	KindSettler  Kind = "settler"
)

var ErrShuttingDown = errors.New("supervisor is shutting down")

// Handle tracks one background worker.
type Handle struct {
	ID        string
	Kind      Kind
	JobID     string
	StartedAt time.Time

	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Done is closed when the worker returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the worker's result. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Supervisor runs the per-job workers under one cancellable context and
// keeps a handle for every running worker.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	running map[string]*Handle

	// OnStart and OnExit, when set, observe worker lifetimes.
	OnStart func(kind Kind)
	OnExit  func(kind Kind, err error)
}

func NewSupervisor(parent context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		running: map[string]*Handle{},
	}
}

// Go starts fn. Errors and panics end up on the handle and in the log.
func (s *Supervisor) Go(kind Kind, jobID string, fn func(ctx context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{
		ID:        uuid.NewString(),
		Kind:      kind,
		JobID:     jobID,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		h.err = ErrShuttingDown
		close(h.done)
		return h
	}
	s.running[h.ID] = h
	if s.OnStart != nil {
		s.OnStart(kind)
	}
	s.group.Go(func() error {
		h.err = s.run(ctx, h, fn)
		cancel()
		s.mu.Lock()
		delete(s.running, h.ID)
		s.mu.Unlock()
		if s.OnExit != nil {
			s.OnExit(kind, h.err)
		}
		close(h.done)
		return nil
	})
	s.mu.Unlock()
	return h
}

func (s *Supervisor) run(ctx context.Context, h *Handle, fn func(ctx context.Context) error) (err error) {
	logger := s.logger.With(slog.String("worker", string(h.Kind)), slog.String("job_id", h.JobID))
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s worker panic: %v", h.Kind, recovered)
			logger.Error("worker panic", slog.Any("error", recovered), slog.String("stack", string(debug.Stack())))
		}
	}()

	err = fn(ctx)
	switch {
	case err == nil:
		logger.Debug("worker finished", slog.Duration("duration", time.Since(h.StartedAt)))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Debug("worker cancelled")
	default:
		logger.Error("worker failed", slog.Any("error", err))
	}
	return err
}

// Handles returns the running workers, oldest first.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	out := make([]*Handle, 0, len(s.running))
	for _, h := range s.running {
		out = append(out, h)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CancelJob cancels every running worker of jobID and returns how many
// were signalled. It does not wait for them to exit.
func (s *Supervisor) CancelJob(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.running {
		if h.JobID == jobID {
			h.cancel()
			n++
		}
	}
	return n
}

// Shutdown cancels every worker and waits for them, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers still running: %w", ctx.Err())
	}
}
