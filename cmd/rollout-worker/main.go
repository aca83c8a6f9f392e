package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/blackjack"
	"distributed-blackjack-rl/internal/collector"
	"distributed-blackjack-rl/internal/config"
	"distributed-blackjack-rl/internal/inference"
	"distributed-blackjack-rl/internal/store"
	"distributed-blackjack-rl/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		applog.Fatal("loading config failed", zap.Error(err))
	}
	if cfg.Worker.WorkerID == "" {
		cfg.Worker.WorkerID = "worker-" + uuid.NewString()
	}
	if err := applog.Initialize("rollout-worker", cfg.DebugMode, cfg.LogPath); err != nil {
		applog.Fatal("initializing logger failed", zap.Error(err))
	}
	defer applog.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm := inference.NewClient(inference.Options{
		BaseURL:            cfg.Inference.BaseURL,
		APIKey:             cfg.Inference.APIKey,
		Model:              cfg.Inference.ModelName,
		Timeout:            cfg.Inference.Timeout,
		MaxNumWorkers:      cfg.Inference.MaxNumWorkers,
		NumRequestsForEval: cfg.Inference.NumRequestsForEval,
	})
	defer llm.Close()
	tokenizer := inference.NewTokenizerClient(cfg.Inference.TokenizerURL, cfg.Inference.ModelName, cfg.Inference.Timeout)
	defer tokenizer.Close()

	col := collector.New(blackjack.NewGame(), llm, tokenizer, cfg.Collector)

	runner := &worker.Runner{
		WorkerID:      cfg.Worker.WorkerID,
		BufferURL:     cfg.Worker.BufferURL,
		BatchEpisodes: cfg.Worker.BatchEpisodes,
		StepsPerEval:  cfg.Worker.StepsPerEval,
		EvalEpisodes:  cfg.Collector.EvalEpisodes,
		Seed:          cfg.Worker.Seed,
		Backoff:       cfg.Worker.Backoff,
		Rollouts:      col,
	}

	if cfg.DatabaseDSN != "" {
		db, err := store.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			applog.Fatal("opening report database failed", zap.Error(err))
		}
		if err := store.Migrate(ctx, db); err != nil {
			applog.Fatal("migrating report database failed", zap.Error(err))
		}
		runner.Reports = store.NewReportRepo(db)
	}

	applog.Info("rollout worker started",
		zap.String("worker_id", runner.WorkerID),
		zap.String("buffer_url", runner.BufferURL),
		zap.Int("group_size", cfg.Collector.GroupSize),
		zap.Int("batch_episodes", runner.BatchEpisodes))

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		applog.Error("rollout worker stopped", zap.Error(err))
		return
	}
	applog.Info("rollout worker shut down")
}
