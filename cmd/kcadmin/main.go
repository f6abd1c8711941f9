// Command kcadmin serves the operator admin API for inspecting, failing
// and reprocessing tasks.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phrazzld/kcjob/internal/api"
	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/platform/natsbus"
	"github.com/phrazzld/kcjob/internal/platform/postgres"
	"github.com/phrazzld/kcjob/internal/platform/sqlite"
	"github.com/phrazzld/kcjob/internal/service"
	"github.com/phrazzld/kcjob/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kcadmin: failed to load configuration:", err)
		os.Exit(1)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kcadmin: failed to set up logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("admin server stopped with error", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required for the admin server")
	}

	db, taskStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.Backend == "nats" {
		n, err := natsbus.Connect(cfg.Notify)
		if err != nil {
			return err
		}
		defer n.Close()
		notifier = notify.NewFanout(log, n, notifier)
	}

	svc, err := service.NewTaskService(taskStore, notifier, cfg.Notify.SiteURL, log)
	if err != nil {
		return err
	}
	router, err := api.NewRouter(svc, cfg.Auth.JWTSecret, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logger.WithLogger(context.Background(), log) },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting admin server", "addr", cfg.Server.AdminAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down admin server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	log.Info("admin server shutdown completed")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, store.TaskStore, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.NewTaskStore(db), nil
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return db, sqlite.NewTaskStore(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
