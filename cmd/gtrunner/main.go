package main

import (
	"context"
	"log"
	"os"
	"regexp"

	"github.com/seantiz/gtrunner/internal/api"
	"github.com/seantiz/gtrunner/internal/config"
	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/runner"
	"github.com/seantiz/gtrunner/internal/store"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("gtrunner: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"trace_dir", cfg.TraceDir,
	)

	var seedRE *regexp.Regexp
	if cfg.SeedRegexp != "" {
		re, err := regexp.Compile(cfg.SeedRegexp)
		if err != nil {
			log.Fatalf("invalid seed regexp: %v", err)
		}
		seedRE = re
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	traces := tracestore.New(cfg.TraceDir, cfg.CopyExecutable)

	registry := runner.NewRegistry()
	registry.Register(model.RunModeDirect, runner.Direct{})
	registry.Register(model.RunModeValgrind, runner.Valgrind{Cmd: cfg.ValgrindCmd, ErrorExit: cfg.CheckerExit})
	registry.Register(model.RunModeValgrindFull, runner.Valgrind{Cmd: cfg.ValgrindFullCmd, ErrorExit: cfg.CheckerExit})

	eng := engine.NewEngine(db, traces, registry, seedRE, logger)

	ctx := context.Background()
	if cfg.ExePath != "" {
		if _, err := eng.SetExecutable(ctx, cfg.ExePath); err != nil {
			logger.Warn("configured executable not usable", "path", cfg.ExePath, "error", err)
		}
	}
	if err := eng.StartWatcher(); err != nil {
		logger.Warn("executable watcher unavailable", "error", err)
	}
	if cfg.ImportOnStart {
		if n, err := eng.ImportTree(ctx, model.OriginAuto); err != nil {
			logger.Warn("trace import failed", "error", err)
		} else if n > 0 {
			logger.Info("imported stray trace files", "results", n)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, registry, api.Defaults{
		Jobs:           cfg.Jobs,
		CopyExecutable: cfg.CopyExecutable,
	}, logger)

	runErr := srv.Run()

	// Stop workers before the trace prune so nothing is writing to the
	// files being inspected.
	eng.Shutdown()
	if cfg.PruneOnExit {
		if _, err := eng.Prune(ctx, true); err != nil {
			logger.Warn("prune on exit failed", "error", err)
		}
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
