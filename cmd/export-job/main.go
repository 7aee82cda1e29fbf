// Command export-job builds the archives listed in a YAML task file, for
// scheduled exports that run outside the HTTP service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/fieldexport/internal/admin"
	"github.com/JonMunkholm/fieldexport/internal/config"
	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/jobs"
	"github.com/JonMunkholm/fieldexport/internal/logging"
	"github.com/JonMunkholm/fieldexport/internal/store"
)

// envTaskFile names the task file when -tasks is not given.
const envTaskFile = "EXPORT_TASKS_FILE"

func main() {
	os.Exit(run())
}

func run() int {
	taskPath := flag.String("tasks", os.Getenv(envTaskFile), "path to the YAML task file")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	logCloser := logging.Setup(cfg.Logging)
	defer logCloser.Close()

	if *taskPath == "" {
		slog.Error("no task file given", "flag", "-tasks", "env", envTaskFile)
		return 2
	}
	tasks, err := jobs.LoadTasks(*taskPath)
	if err != nil {
		slog.Error("failed to load tasks", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := store.Migrate(pool); err != nil {
			slog.Error("failed to migrate database", "error", err)
			return 1
		}
	}

	db := store.New(pool)
	service := core.NewService(core.StoreDeps(db), cfg)
	resetter := &admin.Resetter{
		Projects:  db.Projects,
		Mappings:  db.Mappings,
		ExportDir: cfg.Export.Dir,
		Limiter:   service.Limiter(),
	}

	slog.Info("starting export job", "tasks", len(tasks.ExportTasks), "resets", len(tasks.ResetProjects))
	start := time.Now()

	sum, err := jobs.Run(ctx, tasks, service, resetter, start)
	slog.Info("export job completed",
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"resets", sum.Resets,
		"rows", sum.Rows,
		"duration", time.Since(start).String(),
	)
	if err != nil {
		slog.Error("export job finished with errors", "error", err)
		return 1
	}
	return 0
}
