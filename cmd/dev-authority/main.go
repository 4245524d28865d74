package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-board-client/internal/config"
	"github.com/park285/cheese-board-client/internal/devauthority"
	"github.com/park285/cheese-board-client/internal/obslog"
)

func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv("logs/dev-authority.log"); err != nil {
		log.Printf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.LoadAuthority()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping: %v", err)
	}
	cancel()

	mgr := devauthority.NewManager(rdb, cfg.SessionTTL, logger)
	mgr.AddPublisher(devauthority.NewRedisPublisher(rdb, logger))
	if cfg.DatabaseURL != "" {
		archive, err := devauthority.NewArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer func() { _ = archive.Close() }()
		mgr.AttachArchive(archive)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           devauthority.NewServer(mgr, devauthority.NewHub(logger), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("authority_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("authority_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("authority_stopped")
}
