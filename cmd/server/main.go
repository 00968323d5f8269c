package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carlot/internal/api"
	"carlot/internal/config"
	"carlot/internal/coordinator"
	"carlot/internal/database"
	"carlot/internal/events"
	"carlot/internal/integrations"
	"carlot/internal/logging"
	"carlot/internal/metrics"
	"carlot/internal/queue"
	"carlot/internal/repository"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	kv := buildKVStore(redisClient, logger)

	bus := events.NewEventBus()

	// Очередь синхронизации: события координатора превращаются в задания
	syncQueue := queue.NewQueue(db, redisClient, logger)
	queue.SubscribeEvents(bus, syncQueue, logger)

	coord := coordinator.New(db, bus, logger)
	go coord.Run(ctx)

	dms := integrations.NewDMSClient(cfg.Integrations.DMS, logger)
	redirectURL := cfg.Server.PublicBaseURL + "/api/integrations/accounting/callback"
	accounting := integrations.NewAccountingClient(cfg.Integrations.Accounting, redirectURL, kv, logger)
	publisher := integrations.NewPublisher(cfg.Integrations.Listings, db, logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	server := api.NewServer(cfg, db, coord, kv, dms, accounting, publisher, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("Redis is not configured, using in-process fallbacks")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Error().Err(err).Msg("Redis ping failed, using in-process fallbacks")
		repository.Close(client)
		return nil
	}
	return client
}

// buildKVStore собирает регистр учетных данных: redis с памятью как
// резервом, либо только память
func buildKVStore(redisClient *redis.Client, logger *zerolog.Logger) repository.KeyValueStore {
	memory := repository.NewMemoryKVStore()
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisKVStore(redisClient, "carlot")
	return repository.NewFailoverKVStore(primary, memory, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Monitoring.PrometheusPort).Msg("Prometheus metrics listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
