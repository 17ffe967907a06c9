package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Oudwins/comfyrunner/internals/assert"
	"github.com/Oudwins/comfyrunner/internals/catalog"
	"github.com/Oudwins/comfyrunner/internals/comfy"
	"github.com/Oudwins/comfyrunner/internals/conf"
	"github.com/Oudwins/comfyrunner/internals/coordinator"
	"github.com/Oudwins/comfyrunner/internals/env"
	"github.com/Oudwins/comfyrunner/internals/history"
	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/metrics"
	"github.com/Oudwins/comfyrunner/internals/proclog"
	"github.com/Oudwins/comfyrunner/internals/workflow"
)

var ErrNoTemplate = errors.New("workflow template not loaded")

type BaseServer struct {
	Config      *conf.Config
	Env         *env.EnvStruct
	Logger      *slog.Logger
	History     *history.Store
	Comfy       *comfy.Client
	Coordinator *coordinator.Coordinator
	Metrics     *metrics.Metrics
	ProcLog     *proclog.File

	mu          sync.RWMutex
	template    workflow.Graph
	roles       workflow.Roles
	templateErr error

	ctx     context.Context
	cancel  context.CancelFunc
	process *proclog.Process
	logFile *os.File
}

func New() *BaseServer {
	env := env.Get()
	config := conf.GetConfig()
	if config.Server.DataDir != "" {
		config.Server.DataDir = filepath.Clean(config.Server.DataDir)
	}
	logger, logFile := InitLogger(config)

	base, err := NewWithConfig(context.Background(), config, env, logger)
	assert.AssertNil(err, "[CORE] Failed to initialize base server")
	base.logFile = logFile
	return base
}

// NewWithConfig wires every component from an explicit config. A missing
// workflow template is not fatal: submissions fail until it is reloaded.
func NewWithConfig(ctx context.Context, config *conf.Config, env *env.EnvStruct, logger *slog.Logger) (*BaseServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	store, err := history.Open(ctx, filepath.Join(config.Server.DataDir, "history.db"), logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open history: %w", err)
	}

	client := comfy.New(config.Comfy.URL)
	m := metrics.New()
	coord := coordinator.New(ctx, coordinator.Options{
		Upstream:  client,
		OutputDir: config.Comfy.OutputDir,
		Timing:    config.Timing.Durations(),
		Log:       logbuf.NewRing(logbuf.DefaultCapacity),
		Logger:    logger,
		Metrics:   m,
		Recorder:  store,
	})

	base := &BaseServer{
		Config:      config,
		Env:         env,
		Logger:      logger,
		History:     store,
		Comfy:       client,
		Coordinator: coord,
		Metrics:     m,
		ProcLog:     proclog.NewFile(config.Comfy.LogFile),
		ctx:         ctx,
		cancel:      cancel,
	}
	if err := base.ReloadTemplate(); err != nil {
		logger.Warn("workflow template unavailable", slog.String("path", config.Comfy.WorkflowPath), slog.Any("error", err))
	}
	return base, nil
}

// ReloadTemplate reads the workflow template from disk and rediscovers its roles.
func (b *BaseServer) ReloadTemplate() error {
	graph, err := workflow.Load(b.Config.Comfy.WorkflowPath)
	var roles workflow.Roles
	if err == nil {
		roles = workflow.DiscoverRoles(graph)
		err = roles.Validate(graph)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.templateErr = err
		return err
	}
	b.template, b.roles, b.templateErr = graph, roles, nil
	return nil
}

func (b *BaseServer) Template() (workflow.Graph, workflow.Roles, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.templateErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoTemplate, b.templateErr)
	}
	if b.template == nil {
		return nil, nil, ErrNoTemplate
	}
	return b.template, b.roles, nil
}

func (b *BaseServer) Resolutions() ([]catalog.Resolution, error) {
	return catalog.LoadResolutions(b.Config.Catalog.ResolutionsPath)
}

func (b *BaseServer) Presets() ([]catalog.Preset, error) {
	return catalog.LoadPresets(b.Config.Catalog.PresetsPath)
}

func (b *BaseServer) Checkpoints() ([]string, error) {
	return catalog.Checkpoints(b.Config.Comfy.CheckpointsDir)
}

// StartUpstream launches the configured upstream command, if any, with its
// output tagged into the process log.
func (b *BaseServer) StartUpstream() error {
	if len(b.Config.Comfy.Command) == 0 {
		return nil
	}
	process, err := proclog.Start(b.ctx, b.Config.Comfy.Command, b.Config.Comfy.WorkDir, b.ProcLog, b.Logger)
	if err != nil {
		return err
	}
	b.process = process
	go func() { _ = process.Wait() }()
	return nil
}

// Close stops background workers, the upstream process and the history store.
func (b *BaseServer) Close(ctx context.Context) error {
	shutdownErr := b.Coordinator.Shutdown(ctx)
	b.cancel()
	closeErr := b.History.Close()
	if b.logFile != nil {
		_ = b.logFile.Close()
	}
	return errors.Join(shutdownErr, closeErr)
}
