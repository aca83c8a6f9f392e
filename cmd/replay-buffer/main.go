package main

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/bufferhttp"
	"distributed-blackjack-rl/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		applog.Fatal("loading config failed", zap.Error(err))
	}
	if err := applog.Initialize("replay-buffer", cfg.DebugMode, cfg.LogPath); err != nil {
		applog.Fatal("initializing logger failed", zap.Error(err))
	}
	defer applog.Shutdown()

	replay, closeStore, err := openStore(context.Background(), cfg.Buffer)
	if err != nil {
		applog.Fatal("opening replay buffer failed", zap.Error(err))
	}
	defer closeStore()

	h := bufferhttp.Handler{Store: replay}
	s := server.Default(server.WithHostPorts(":" + cfg.Buffer.Port))
	h.RegisterRoutes(s)

	applog.Info("replay buffer listening",
		zap.String("port", cfg.Buffer.Port),
		zap.String("backend", cfg.Buffer.Backend),
		zap.Int("capacity", replay.Capacity()),
		zap.String("policy", replay.Policy()))
	s.Spin()
}

func openStore(ctx context.Context, cfg config.Buffer) (buffer.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		rb, err := buffer.NewReplayBuffer(cfg.Capacity, cfg.Policy)
		return rb, func() {}, err
	case "redis":
		client, err := buffer.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rb, err := buffer.NewRedisBuffer(client, cfg.RedisKey, cfg.Capacity, cfg.Policy)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return rb, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown buffer backend %q", cfg.Backend)
	}
}
