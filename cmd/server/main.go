package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-naval-battle/internal/config"
	"github.com/koopa0/system-design/14-naval-battle/internal/eventbus"
	"github.com/koopa0/system-design/14-naval-battle/internal/lobby"
	"github.com/koopa0/system-design/14-naval-battle/internal/registry"
	"github.com/koopa0/system-design/14-naval-battle/internal/server"
	"github.com/koopa0/system-design/14-naval-battle/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置檔路徑（YAML），留空使用預設值")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(cfg.LoggerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 暱稱表：memory 或 redis
	var names lobby.NameStore = lobby.NewMemoryNameStore()
	if cfg.Lobby.NameStore == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		defer client.Close()

		names = lobby.NewRedisNameStore(client, cfg.Lobby.KeyPrefix, cfg.Lobby.NameTTL)
		log.Info("使用 Redis 暱稱表", "addr", cfg.Redis.Addr)
	}

	// 事件匯流排：未設定 NATS 時不發布
	var publisher eventbus.Publisher = eventbus.NopPublisher{}
	if cfg.NATS.URL != "" {
		pub, err := eventbus.Connect(cfg.EventBusConfig(), log)
		if err != nil {
			return err
		}
		publisher = pub
		log.Info("事件匯流排已連線", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}
	defer publisher.Close()

	reg := registry.New(cfg.RegistryOptions(log))
	lob := lobby.New(names, reg, log)
	hub := server.NewHub(reg, lob, publisher, cfg.HubOptions(), log)
	handler := server.NewHandler(reg, lob, hub, log)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("海戰服務器啟動",
			"addr", srv.Addr,
			"board_size", cfg.Game.BoardSize,
			"turn_duration", cfg.Game.TurnDuration,
			"extra_shot_on_hit", cfg.Game.ExtraShotOnHit)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			reg.Stop()
			hub.Stop()
			return fmt.Errorf("listen: %w", err)
		}

	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("服務器關閉失敗", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("強制關閉服務器失敗", "error", closeErr)
			}
		}

		// 先結束所有對局，Hub 才能把 shutdown 通知送出去
		reg.Stop()
		hub.Stop()
	}

	log.Info("服務器已關閉")
	return nil
}
