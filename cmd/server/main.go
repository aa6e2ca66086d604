package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/linehaul/internal/api"
	"github.com/dharsanguruparan/linehaul/internal/catalog"
	"github.com/dharsanguruparan/linehaul/internal/config"
	"github.com/dharsanguruparan/linehaul/internal/database"
	"github.com/dharsanguruparan/linehaul/internal/ingest"
	"github.com/dharsanguruparan/linehaul/internal/jobqueue"
	"github.com/dharsanguruparan/linehaul/internal/records"
	"github.com/dharsanguruparan/linehaul/internal/s3storage"
	"github.com/dharsanguruparan/linehaul/internal/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Close(closeCtx)
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		log.Error("ensure indexes", "error", err)
		os.Exit(1)
	}

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Error("ensure bucket", "error", err)
		os.Exit(1)
	}

	files := catalog.New(db)
	queue := jobqueue.New(db, jobqueue.Options{
		LockTimeout:    cfg.LockTimeout,
		StaleThreshold: cfg.StaleThreshold,
		MaxAttempts:    cfg.MaxAttempts,
	})

	// Stale jobs from a previous crash must be swept before any worker claims.
	stats, err := queue.RecoverStale(ctx)
	if err != nil {
		log.Error("recover stale jobs", "error", err)
		os.Exit(1)
	}
	if stats.Reset > 0 || stats.Failed > 0 {
		log.Info("recovered stale jobs", "reset", stats.Reset, "failed", stats.Failed)
	}

	pipeline := ingest.New(store, files, cfg.MaxFileSize, cfg.AllowedFileTypes)
	srv := api.New(cfg, log, pipeline, files, queue, db, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.EnableWorker {
		w := worker.New(cfg.WorkerID, queue, files, store, records.New(db), worker.Config{
			BatchSize:        cfg.BatchSize,
			WritePause:       cfg.WritePause,
			PollInterval:     cfg.PollInterval,
			RecoveryInterval: cfg.RecoveryInterval,
		}, log)
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
