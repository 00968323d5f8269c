package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carlot/internal/config"
	"carlot/internal/database"
	"carlot/internal/integrations"
	"carlot/internal/logging"
	"carlot/internal/metrics"
	"carlot/internal/queue"
	"carlot/internal/repository"
)

// Token refresh is enqueued well before QuickBooks-style access tokens
// expire (usually 1h)
const tokenRefreshInterval = 45 * time.Minute

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

	syncQueue := queue.NewQueue(db, redisClient, logger)

	// Консьюмер читает состояние машин через HTTP координатора, а не
	// напрямую из БД
	apiKey := ""
	if len(cfg.Auth.APIKeys) > 0 {
		apiKey = cfg.Auth.APIKeys[0].Key
	}
	vehicles := queue.NewHTTPVehicleSource(cfg.Server.PublicBaseURL, cfg.Auth.HeaderAPIKey, apiKey)

	dms := integrations.NewDMSClient(cfg.Integrations.DMS, logger)
	redirectURL := cfg.Server.PublicBaseURL + "/api/integrations/accounting/callback"
	accounting := integrations.NewAccountingClient(cfg.Integrations.Accounting, redirectURL, kv, logger)

	worker := queue.NewWorker(db, syncQueue, vehicles, dms, accounting, queue.RetryPolicyFromConfig(cfg.Worker), logger)
	worker.SetPollInterval(time.Duration(cfg.Worker.PollIntervalSec) * time.Second)
	worker.SetBatchSize(cfg.Worker.BatchSize)

	if accounting.Configured() {
		go scheduleTokenRefresh(ctx, syncQueue, accounting, logger)
	}

	worker.Start(ctx)
	return nil
}

// scheduleTokenRefresh периодически ставит задачу обновления OAuth токена
func scheduleTokenRefresh(ctx context.Context, q *queue.Queue, accounting *integrations.AccountingClient, logger *zerolog.Logger) {
	ticker := time.NewTicker(tokenRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !accounting.Connected(ctx) {
				continue
			}
			if err := q.EnqueueTokenRefresh(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to enqueue token refresh")
			}
		}
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("Redis is not configured, polling SQLite only")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Error().Err(err).Msg("Redis ping failed, polling SQLite only")
		repository.Close(client)
		return nil
	}
	return client
}

func buildKVStore(redisClient *redis.Client, logger *zerolog.Logger) repository.KeyValueStore {
	memory := repository.NewMemoryKVStore()
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisKVStore(redisClient, "carlot")
	return repository.NewFailoverKVStore(primary, memory, logger)
}
