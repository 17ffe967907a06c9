// Package coordinator drives each job through its lifecycle: submit, follow
// progress, resolve outputs, settle files, release the gate.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Oudwins/comfyrunner/internals/artifacts"
	"github.com/Oudwins/comfyrunner/internals/comfy"
	"github.com/Oudwins/comfyrunner/internals/conf"
	"github.com/Oudwins/comfyrunner/internals/gate"
	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/metrics"
	"github.com/Oudwins/comfyrunner/internals/progress"
	"github.com/Oudwins/comfyrunner/internals/taskstate"
	"github.com/Oudwins/comfyrunner/internals/workflow"
	"github.com/gorilla/websocket"
)

// Upstream is the ComfyUI API surface the coordinator needs.
type Upstream interface {
	QueuePrompt(ctx context.Context, graph workflow.Graph) (string, error)
	History(ctx context.Context, jobID string) (comfy.History, error)
	WebSocketURL() (string, error)
}

// Recorder persists job transitions. Failures are logged, never fatal.
type Recorder interface {
	RecordSubmitted(ctx context.Context, jobID string, params any) error
	RecordFailure(ctx context.Context, params any, cause error) error
	MarkGenerated(ctx context.Context, jobID string) error
	MarkSaved(ctx context.Context, jobID string, paths []string) error
}

type Options struct {
	Upstream  Upstream
	OutputDir string
	Timing    conf.Durations

	Log      *logbuf.Ring
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder

	// Stat and Dialer override file and network access in tests.
	Stat   artifacts.StatFunc
	Dialer *websocket.Dialer
}

type Coordinator struct {
	upstream Upstream
	store    *taskstate.Store
	gate     *gate.Gate
	sup      *Supervisor
	log      *logbuf.Ring
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	resolver *artifacts.Resolver
	settler  *artifacts.Settler
	timing   conf.Durations
	dialer   *websocket.Dialer

	// changed is closed and replaced whenever a job is saved or the
	// session is reset.
	mu      sync.Mutex
	changed chan struct{}
}

func New(ctx context.Context, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Log == nil {
		opts.Log = logbuf.NewRing(logbuf.DefaultCapacity)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	logger := opts.Logger.With(slog.String("component", "coordinator"))

	c := &Coordinator{
		upstream: opts.Upstream,
		gate:     gate.New(),
		sup:      NewSupervisor(ctx, logger),
		log:      opts.Log,
		logger:   logger,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		timing:   opts.Timing,
		dialer:   opts.Dialer,
		changed:  make(chan struct{}),
	}
	c.store = taskstate.New(c)
	c.sup.OnStart = func(kind Kind) { c.metrics.Workers.WithLabelValues(string(kind)).Inc() }
	c.sup.OnExit = func(kind Kind, err error) {
		c.metrics.Workers.WithLabelValues(string(kind)).Dec()
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			c.metrics.WorkerErrors.WithLabelValues(string(kind)).Inc()
		}
	}
	c.resolver = &artifacts.Resolver{
		History:   opts.Upstream,
		OutputDir: opts.OutputDir,
		Interval:  opts.Timing.HistoryPoll,
		Log:       opts.Log,
		Logger:    logger,
	}
	c.settler = &artifacts.Settler{
		Stat:      opts.Stat,
		Sample:    opts.Timing.SettleSample,
		Pacing:    opts.Timing.SettlePacing,
		Log:       opts.Log,
		Logger:    logger,
		OnTimeout: func(string) { c.metrics.SettleTimeouts.Inc() },
	}
	return c
}

func (c *Coordinator) Store() *taskstate.Store   { return c.store }
func (c *Coordinator) Gate() *gate.Gate          { return c.gate }
func (c *Coordinator) Log() *logbuf.Ring         { return c.log }
func (c *Coordinator) Supervisor() *Supervisor   { return c.sup }
func (c *Coordinator) Metrics() *metrics.Metrics { return c.metrics }

func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.sup.Shutdown(ctx)
}

// Submit builds the job graph and queues it. Any failure yields NoJob and an
// error wrapping taskstate.ErrNoJob. On success the job is recorded, then
// registered, which starts its progress listener.
func (c *Coordinator) Submit(ctx context.Context, template workflow.Graph, roles workflow.Roles, params workflow.Params) (string, error) {
	graph, err := workflow.Build(template, roles, params)
	if err != nil {
		return c.fail(ctx, params, fmt.Errorf("build workflow: %w", err))
	}
	jobID, err := c.upstream.QueuePrompt(ctx, graph)
	if err != nil {
		return c.fail(ctx, params, err)
	}
	if err := c.recorder.RecordSubmitted(ctx, jobID, params); err != nil {
		c.logger.Warn("failed to record job", slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := c.store.Register(jobID); err != nil {
		return c.fail(ctx, params, err)
	}

	c.metrics.JobsSubmitted.Inc()
	c.log.Appendf("Prompt queued. ID: %s", jobID)
	c.logger.Info("prompt queued", slog.String("job_id", jobID))
	return jobID, nil
}

// Reset clears every task record for a new session. Workers of the cleared
// jobs are cancelled and banked gate releases are dropped.
func (c *Coordinator) Reset() {
	records := c.store.List()
	c.store.Clear()
	for _, rec := range records {
		c.sup.CancelJob(rec.JobID)
	}
	if n := c.gate.Drain(); n > 0 {
		c.logger.Debug("dropped banked releases", slog.Int("count", n))
	}
	c.notify()
	c.log.Append("Session reset.")
}

// WaitJob blocks until jobID is saved and returns its record. It fails with
// taskstate.ErrUnknownJob when the job is not, or no longer, in the session.
func (c *Coordinator) WaitJob(ctx context.Context, jobID string) (taskstate.Record, error) {
	for {
		c.mu.Lock()
		changed := c.changed
		c.mu.Unlock()

		rec, ok := c.store.Get(jobID)
		if !ok {
			return taskstate.Record{}, fmt.Errorf("%w: %s", taskstate.ErrUnknownJob, jobID)
		}
		if rec.Saved {
			return rec, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return taskstate.Record{}, ctx.Err()
		}
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// WaitLatest blocks on the release gate, then returns the latest saved path.
func (c *Coordinator) WaitLatest(ctx context.Context) (string, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return "", err
	}
	return c.store.LatestPath()
}

func (c *Coordinator) fail(ctx context.Context, params workflow.Params, cause error) (string, error) {
	c.metrics.JobsFailed.Inc()
	c.log.Appendf("Failed to queue prompt: %v", cause)
	c.logger.Error("failed to queue prompt", slog.Any("error", cause))
	if err := c.recorder.RecordFailure(context.WithoutCancel(ctx), params, cause); err != nil {
		c.logger.Warn("failed to record submission failure", slog.Any("error", err))
	}
	return taskstate.NoJob, fmt.Errorf("%w: %w", taskstate.ErrNoJob, cause)
}

// JobRegistered starts the job's progress listener.
func (c *Coordinator) JobRegistered(jobID string) {
	url, err := c.upstream.WebSocketURL()
	if err != nil {
		c.logger.Error("cannot follow job progress", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	c.sup.Go(KindListener, jobID, func(ctx context.Context) error {
		listener := &progress.Listener{
			URL:                 url,
			JobID:               jobID,
			Complete:            c.store.MarkGenerated,
			Generated:           c.store.IsGenerated,
			Log:                 c.log,
			Logger:              c.logger,
			Dialer:              c.dialer,
			ReconnectAfterClose: c.timing.ReconnectAfterClose,
			ReconnectAfterError: c.timing.ReconnectAfterError,
			DialRetry:           c.timing.DialRetry,
			OnReconnect:         c.metrics.ListenerReconnects.Inc,
		}
		return listener.Run(ctx)
	})
}

// JobGenerated starts resolving the job's outputs.
func (c *Coordinator) JobGenerated(jobID string) {
	if err := c.recorder.MarkGenerated(context.Background(), jobID); err != nil {
		c.logger.Warn("failed to record generated job", slog.String("job_id", jobID), slog.Any("error", err))
	}
	c.sup.Go(KindResolver, jobID, func(ctx context.Context) error {
		paths, err := c.resolver.Resolve(ctx, jobID)
		if err != nil {
			return err
		}
		return c.store.SetPaths(jobID, paths)
	})
}

// PathsResolved starts settling the job's recorded paths.
func (c *Coordinator) PathsResolved(jobID string, _ []string) {
	c.sup.Go(KindSettler, jobID, func(ctx context.Context) error {
		paths, err := c.store.Paths(jobID)
		if err != nil {
			return err
		}
		if _, err := c.settler.Settle(ctx, paths); err != nil {
			return err
		}
		return c.store.MarkSaved(jobID)
	})
}

// JobSaved releases the gate and wakes per-job waiters.
func (c *Coordinator) JobSaved(jobID string) {
	c.gate.Signal()
	c.notify()
	c.metrics.JobsSaved.Inc()
	paths, _ := c.store.Paths(jobID)
	if err := c.recorder.MarkSaved(context.Background(), jobID, paths); err != nil {
		c.logger.Warn("failed to record saved job", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmitted(context.Context, string, any) error { return nil }
func (nopRecorder) RecordFailure(context.Context, any, error) error    { return nil }
func (nopRecorder) MarkGenerated(context.Context, string) error        { return nil }
func (nopRecorder) MarkSaved(context.Context, string, []string) error  { return nil }
