// Package app wires configuration into the running ingestion service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/txingest/internal/artifact"
	"github.com/dvloznov/txingest/internal/config"
	bq "github.com/dvloznov/txingest/internal/infra/bigquery"
	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/jobs/inmemory"
	"github.com/dvloznov/txingest/internal/pipeline"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/dvloznov/txingest/internal/store/postgres"
	"github.com/dvloznov/txingest/internal/store/sqlite"
	"github.com/dvloznov/txingest/internal/watch"
	"github.com/rs/zerolog"
)

// App holds the collaborators of one service instance.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Repo      store.Repository
	Artifacts artifact.Store
	Exporter  *bq.Exporter
	Jobs      *inmemory.Store
	Queue     *inmemory.Queue
	Tracker   *jobs.Tracker
	Executor  *pipeline.Executor
}

// OpenRepository opens the configured transaction store.
func OpenRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Repository, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DBPath, log)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DBDSN, log)
	default:
		return nil, fmt.Errorf("OpenRepository: unknown driver %q", cfg.DBDriver)
	}
}

// OpenExporter returns nil when no warehouse project is configured.
func OpenExporter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*bq.Exporter, error) {
	if cfg.BigQueryProject == "" {
		return nil, nil
	}
	exp, err := bq.NewExporter(ctx, bq.Config{
		Project: cfg.BigQueryProject,
		Dataset: cfg.BigQueryDataset,
		Table:   cfg.BigQueryTable,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := exp.EnsureTable(ctx); err != nil {
		exp.Close()
		return nil, err
	}
	return exp, nil
}

// New builds the store, artifact storage, job queue and executor.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	repo, err := OpenRepository(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("New: opening store: %w", err)
	}
	a.Repo = repo

	artifacts, err := artifact.New(ctx, cfg.UploadDir, cfg.GCSBucket, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("New: opening artifact store: %w", err)
	}
	a.Artifacts = artifacts

	exporter, err := OpenExporter(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("New: opening exporter: %w", err)
	}
	a.Exporter = exporter

	pcfg := pipeline.Config{
		Artifacts: artifacts,
		Repo:      repo,
		Policy:    cfg.Policy(),
		Location:  cfg.Location(),
		Log:       log,
	}
	if exporter != nil {
		pcfg.Exporter = exporter
	}
	a.Executor = pipeline.NewExecutor(pcfg)

	a.Jobs = inmemory.NewStore(cfg.JobRetention)
	a.Queue = inmemory.NewQueue(cfg.QueueSize, cfg.Workers, a.Jobs, log)
	a.Tracker = jobs.NewTracker(a.Jobs, a.Queue, artifacts, log)

	return a, nil
}

// Start launches the worker pool. Cancelling ctx stops workers without
// draining; use Shutdown for a graceful stop.
func (a *App) Start(ctx context.Context) error {
	return a.Queue.Start(ctx, a.Executor.Handle)
}

// Watcher returns an inbox watcher, or nil when no inbox is configured.
func (a *App) Watcher() *watch.Watcher {
	if a.Config.InboxDir == "" {
		return nil
	}
	return watch.New(a.Config.InboxDir, a.Artifacts, a.Tracker, a.Log)
}

// Shutdown drains the queue and releases every resource. If ctx ends before
// the running jobs finish, the store, artifact storage and exporter stay open
// for them and Shutdown may be called again.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("jobs still running, leaving store open")
			return fmt.Errorf("stopping queue: %w", err)
		}
	}
	return a.close()
}

func (a *App) close() error {
	var errs []error
	if a.Exporter != nil {
		if err := a.Exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing exporter: %w", err))
		}
	}
	if c, ok := a.Artifacts.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing artifact store: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	return errors.Join(errs...)
}
