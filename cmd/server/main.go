// Command server starts the chatwire real-time chat backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/mail"
	"github.com/chatwire/chatwire/internal/server"
	"github.com/chatwire/chatwire/internal/service"
	"github.com/chatwire/chatwire/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := server.NewConfigFromEnv()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting chatwire",
		zap.String("port", cfg.Port),
		zap.String("redis", cfg.RedisAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		identity store.IdentityStore
		bus      store.Bus
		history  store.MessageLog
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer func() { _ = client.Close() }()

		backend := store.NewRedis(client, logger)
		identity, bus, history = backend, backend, backend
	} else {
		logger.Info("no REDIS_ADDR configured; using in-process backends")
		identity = store.NewMemoryIdentity()
		bus = store.NewMemoryBus()
		history = store.NewMemoryLog()
	}

	accounts := service.NewAccounts(identity, mail.NewLogMailer(logger),
		cfg.VerificationLinkPrefix, cfg.VerificationTimeout, logger)
	router := server.NewRouter(bus, history, logger)
	manager := server.NewSessionManager(logger)
	go manager.Run()

	app := server.NewApp(*cfg, accounts, router, manager, logger)
	httpServer := server.CreateServer(cfg.Port, app.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case <-ctx.Done():
		_ = server.ShutdownServer(httpServer, shutdownTimeout, logger)
		_ = manager.Shutdown(shutdownTimeout)
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
