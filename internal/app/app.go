package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"flatman-go/internal/config"
	"flatman-go/internal/database"
	"flatman-go/internal/notify"
	"flatman-go/internal/orchestrator"
	"flatman-go/internal/queue"
	"flatman-go/internal/tool"
)

// App is the application layer between the CLI and the orchestration
// packages. It constructs all dependencies from config; the same wiring
// serves both one-shot CLI commands and the long-running daemon.
type App struct {
	cfg      *config.Config
	store    *database.SQLiteStore
	queue    orchestrator.Queue
	hub      *notify.Hub
	cancels  *orchestrator.CancelRegistry
	service  *orchestrator.Service
	executor *orchestrator.Executor
	sweep    *orchestrator.Sweep
	logFile  *os.File
	logger   orchestrator.Logger
}

// NewApp creates a fully wired App from the given config. The caller
// must call Close when done.
func NewApp(cfg *config.Config) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir != "" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	q, err := queue.NewQueueFromConfig(cfg.Queue, store.DB())
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	hub := notify.NewHub()
	cancels := orchestrator.NewCancelRegistry()

	service := orchestrator.NewService(store, q, hub, cancels, logger, nil,
		orchestrator.ServiceOptions{
			DefaultBranch: cfg.Build.DefaultBranch,
			DefaultArch:   cfg.Build.DefaultArch,
		})

	buildLog := orchestrator.NewBuildLogger(store, hub, logger, nil)
	executor := orchestrator.NewExecutor(store, q, buildLog, cancels, tool.ExecRunner{}, hub, logger, nil,
		orchestrator.ExecutorConfig{
			Workers:       cfg.Build.WorkersOrDefault(),
			CloneTimeout:  cfg.Build.CloneTimeoutOrDefault(),
			BuildTimeout:  cfg.Build.BuildTimeoutOrDefault(),
			ToolTimeout:   cfg.Build.ToolTimeoutOrDefault(),
			WorkDir:       cfg.Build.WorkDir,
			ReposBasePath: cfg.Repos.BasePath,
			StagingPath:   cfg.Repos.StagingPath,
		})

	sweep := orchestrator.NewSweep(store, q, hub, logger, nil,
		cfg.Sweep.IntervalOrDefault(), cfg.Sweep.StaleAfterOrDefault())

	return &App{
		cfg:      cfg,
		store:    store,
		queue:    q,
		hub:      hub,
		cancels:  cancels,
		service:  service,
		executor: executor,
		sweep:    sweep,
		logFile:  logFile,
		logger:   logger,
	}, nil
}

// Service exposes the control surface for CLI commands.
func (a *App) Service() *orchestrator.Service { return a.service }

// Serve runs the worker pool and the staleness sweep until ctx is done.
// Blocks until both have drained.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Build.WorkDir != "" {
		if err := os.MkdirAll(a.cfg.Build.WorkDir, 0755); err != nil {
			return fmt.Errorf("creating work directory: %w", err)
		}
	}
	if err := os.MkdirAll(a.cfg.Repos.BasePath, 0755); err != nil {
		return fmt.Errorf("creating repos directory: %w", err)
	}

	a.logger.Info("daemon starting",
		"workers", a.cfg.Build.WorkersOrDefault(),
		"repos", a.cfg.Repos.BasePath,
		"staging", a.cfg.Repos.StagingPath)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.executor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.sweep.Run(ctx)
	}()
	wg.Wait()

	a.logger.Info("daemon stopped")
	return nil
}

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
