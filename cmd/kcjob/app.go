package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/cluster"
	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/convert"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/batchapi"
	"github.com/phrazzld/kcjob/internal/platform/gcs"
	"github.com/phrazzld/kcjob/internal/platform/migrations"
	"github.com/phrazzld/kcjob/internal/platform/natsbus"
	"github.com/phrazzld/kcjob/internal/platform/postgres"
	"github.com/phrazzld/kcjob/internal/platform/s3"
	"github.com/phrazzld/kcjob/internal/platform/sqlite"
	"github.com/phrazzld/kcjob/internal/store"
	"github.com/phrazzld/kcjob/internal/task"
)

// application owns every dependency of one kcjob process and releases them
// in cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger

	db           *sql.DB
	taskStore    store.TaskStore
	blobs        blob.Store
	notifier     notify.Notifier
	orchestrator *task.Orchestrator

	closers []io.Closer
}

// newApplication opens the task store, object store, batch client and
// notifier described by cfg. With migrate set the schema is brought up to
// date before the store is used.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*application, error) {
	app := &application{config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.cleanup()
		}
	}()

	if err := app.openStore(ctx, migrate); err != nil {
		return nil, err
	}
	if err := app.openBlobs(ctx); err != nil {
		return nil, err
	}
	if err := app.openNotifier(); err != nil {
		return nil, err
	}

	batchClient, err := batchapi.New(cfg.Batch)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch client: %w", err)
	}
	converter, err := convert.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}

	app.orchestrator, err = task.New(task.Deps{
		Store:     app.taskStore,
		Blobs:     app.blobs,
		Converter: converter,
		Batch:     batchClient,
		Collector: cluster.NewCollector(batchClient),
		Notifier:  app.notifier,
	}, task.ConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ok = true
	return app, nil
}

func (app *application) openStore(ctx context.Context, migrate bool) error {
	cfg := app.config.Database
	var err error
	switch cfg.Driver {
	case "postgres":
		app.db, err = postgres.Open(ctx, cfg)
	case "sqlite":
		app.db, err = sqlite.Open(ctx, cfg)
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return err
	}
	app.closers = append(app.closers, app.db)

	if migrate {
		if err := migrations.Up(ctx, app.db, cfg.Driver); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		app.logger.Info("database migrations applied", "driver", cfg.Driver)
	}

	if cfg.Driver == "postgres" {
		app.taskStore = postgres.NewTaskStore(app.db)
	} else {
		app.taskStore = sqlite.NewTaskStore(app.db)
	}
	app.logger.Debug("task store opened", "driver", cfg.Driver)
	return nil
}

func (app *application) openBlobs(ctx context.Context) error {
	cfg := app.config.Storage
	switch cfg.Backend {
	case "gcs":
		s, err := gcs.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open gcs bucket: %w", err)
		}
		app.closers = append(app.closers, s)
		app.blobs = s
	case "s3":
		s, err := s3.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open s3 bucket: %w", err)
		}
		app.blobs = s
	case "filesystem":
		s, err := blob.NewFileStore(cfg.RootDir)
		if err != nil {
			return fmt.Errorf("failed to open blob directory: %w", err)
		}
		app.blobs = s
	case "memory":
		app.blobs = blob.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	app.logger.Debug("object store opened", "backend", cfg.Backend, "bucket", cfg.Bucket)
	return nil
}

func (app *application) openNotifier() error {
	cfg := app.config.Notify
	logNotifier := notify.NewLogNotifier(app.logger)
	switch cfg.Backend {
	case "log":
		app.notifier = logNotifier
	case "nats":
		n, err := natsbus.Connect(cfg)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, closerFunc(func() error {
			n.Close()
			return nil
		}))
		app.notifier = notify.NewFanout(app.logger, n, logNotifier)
	default:
		return fmt.Errorf("unsupported notify backend %q", cfg.Backend)
	}
	return nil
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	if err := errors.Join(errs...); err != nil {
		app.logger.Error("error during cleanup", "error", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
