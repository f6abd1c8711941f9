// Command kcjob runs the durable orchestration protocol for one question-file
// task, or sweeps every unfinished task after a worker restart.
//
// Exit codes: 0 when the task completed, was already finished, stalled
// waiting for an operator, or the run was interrupted; 1 when the task was
// marked failed; 2 on setup errors or an unknown task.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/task"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitFatal  = 2
)

// options are the parsed command line flags.
type options struct {
	taskID  string
	sweep   bool
	migrate bool
	workers int
	limit   int
}

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stderr))
}

func parseOptions(args []string, getenv func(string) string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("kcjob", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.taskID, "task", "", "task id to orchestrate (default $TASK_ID)")
	fs.BoolVar(&opts.sweep, "sweep", false, "run every unfinished task instead of a single one")
	fs.BoolVar(&opts.migrate, "migrate", false, "apply database migrations before running")
	fs.IntVar(&opts.workers, "workers", 1, "tasks orchestrated concurrently during -sweep")
	fs.IntVar(&opts.limit, "limit", 0, "maximum tasks per status during -sweep (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.taskID == "" {
		opts.taskID = getenv("TASK_ID")
	}
	switch {
	case opts.sweep && opts.taskID != "":
		return opts, errors.New("-sweep cannot be combined with a task id")
	case !opts.sweep && opts.taskID == "":
		return opts, errors.New("no task id: set TASK_ID or pass -task")
	}
	return opts, nil
}

func run(args []string, getenv func(string) string, stderr io.Writer) int {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	opts, err := parseOptions(args, getenv, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "kcjob:", err)
		return exitFatal
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "kcjob: failed to load configuration:", err)
		return exitFatal
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		fmt.Fprintln(stderr, "kcjob: failed to set up logger:", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	app, err := newApplication(ctx, cfg, log, opts.migrate)
	if err != nil {
		log.Error("failed to initialize application", "error", err)
		return exitFatal
	}
	defer app.cleanup()

	if opts.sweep {
		return app.sweep(ctx, opts)
	}
	outcome, err := app.orchestrator.Run(ctx, opts.taskID)
	return exitCode(log, outcome, err)
}

func (app *application) sweep(ctx context.Context, opts options) int {
	sweeper := task.NewSweeper(app.taskStore, app.orchestrator, task.SweeperConfig{
		WorkerCount: opts.workers,
		Limit:       opts.limit,
	}, app.logger)

	report, err := sweeper.Sweep(ctx)
	if err != nil {
		app.logger.Error("sweep failed", "error", err)
		return exitFatal
	}
	return sweepExitCode(report)
}

// exitCode maps one orchestrator run to the process exit status.
func exitCode(log *slog.Logger, outcome task.Outcome, err error) int {
	if err != nil {
		log.Error("task run ended with error", "outcome", outcome.String(), "error", err)
		return exitFatal
	}
	log.Info("task run finished", "outcome", outcome.String())
	if outcome == task.OutcomeFailed {
		return exitFailed
	}
	return exitOK
}

func sweepExitCode(report *task.SweepReport) int {
	switch {
	case report.Errors > 0:
		return exitFatal
	case report.Counts[task.OutcomeFailed] > 0:
		return exitFailed
	default:
		return exitOK
	}
}
