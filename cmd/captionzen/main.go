package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/binnykanjur/caption-zen/internal/chat"
	"github.com/binnykanjur/caption-zen/internal/config"
	"github.com/binnykanjur/caption-zen/internal/httpapi"
	"github.com/binnykanjur/caption-zen/internal/metrics"
	"github.com/binnykanjur/caption-zen/internal/queue"
	"github.com/binnykanjur/caption-zen/internal/secrets"
	"github.com/binnykanjur/caption-zen/internal/settings"
	"github.com/binnykanjur/caption-zen/internal/storage"
	"github.com/binnykanjur/caption-zen/internal/video"
	"github.com/binnykanjur/caption-zen/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("mode", cfg.AppMode).
		Str("db_driver", cfg.DB.Driver).
		Msg("starting captionzen")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, cfg.DB.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	keyring, err := secrets.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}

	m := metrics.Global()
	httpClient := &http.Client{Timeout: cfg.Client.Timeout}
	ingestQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)

	settingsService := settings.NewService(store, keyring)
	videoSource := video.NewYouTube(video.Config{
		HTTPClient: httpClient,
		Redis:      rdb,
		CacheTTL:   cfg.Video.CacheTTL,
		Logger:     log.Logger,
	})
	chatService := chat.NewService(chat.Config{
		Store:      store,
		Settings:   settingsService,
		Video:      videoSource,
		HTTPClient: httpClient,
		Logger:     log.Logger,
		Metrics:    m,
	})

	errCh := make(chan error, 4)

	var httpServer *http.Server
	if cfg.AppMode == config.ModeAPI || cfg.AppMode == config.ModeAll {
		api := httpapi.NewServer(httpapi.Config{
			Chats:       chatService,
			Settings:    settingsService,
			RateLimiter: queue.NewRateLimiter(rdb, cfg.Rate.CompletionsPerHour),
			Ingest:      ingestQueue,
			Logger:      log.Logger,
		})
		httpServer = &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           api.Handler(cfg.HTTP.HealthPath, cfg.HTTP.MetricsPath),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if cfg.AppMode == config.ModeWorker || cfg.AppMode == config.ModeAll {
		w := worker.New(worker.Config{
			Chats:         chatService,
			Queue:         ingestQueue,
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger,
			Metrics:       m,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("ingest worker started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop http server")
		}
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
