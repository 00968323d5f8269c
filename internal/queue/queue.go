// Package queue implements the at-least-once sync dispatch pipeline between
// the coordinator and the outbound integrations. Jobs are persisted to
// sqlite first, then scheduled through redis; the sqlite poller picks up
// whatever redis loses, so a duplicate delivery is possible but a drop is
// not.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carlot/internal/database"
	"carlot/internal/metrics"
	"carlot/internal/models"
)

const (
	JobVehicleSync  = "vehicle_sync"
	JobExpenseSync  = "expense_sync"
	JobTokenRefresh = "token_refresh"
)

const (
	redisQueueKey = "carlot:sync:queue"
	deadLetterKey = "carlot:sync:deadletter"
)

// VehicleSyncPayload tells the consumer which vehicle changed and how.
// Action is "update" or "sold".
type VehicleSyncPayload struct {
	VehicleID string `json:"vehicle_id"`
	Action    string `json:"action"`
}

type ExpenseSyncPayload struct {
	ServiceID string  `json:"service_id"`
	VehicleID string  `json:"vehicle_id"`
	Amount    float64 `json:"amount"`
}

// Queue is the producer side: persist then schedule.
type Queue struct {
	db     *database.DB
	redis  *redis.Client
	local  chan models.SyncJob
	logger *zerolog.Logger
}

func NewQueue(db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *Queue {
	return &Queue{
		db:     db,
		redis:  redisClient,
		local:  make(chan models.SyncJob, models.WorkerQueueSize),
		logger: logger,
	}
}

// Enqueue записывает задание в sqlite, затем планирует его через redis.
// Потеря redis не теряет задание: его подберет поллер
func (q *Queue) Enqueue(ctx context.Context, jobType, entityID string, payload interface{}) error {
	if jobType == "" {
		return errors.New("job type is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	id, err := q.db.CreateSyncJob(ctx, jobType, entityID, string(data))
	if err != nil {
		return fmt.Errorf("persist sync job: %w", err)
	}

	job := models.SyncJob{
		ID:       id,
		JobType:  jobType,
		EntityID: entityID,
		Payload:  string(data),
		Status:   "pending",
	}

	metrics.IncSyncJob("enqueued")

	if q.redis != nil {
		if err := q.pushRedis(ctx, job); err != nil {
			q.logger.Warn().Err(err).Int64("job_id", id).Msg("Redis push failed, falling back to local queue")
		} else {
			return nil
		}
	}

	select {
	case q.local <- job:
	default:
		q.logger.Warn().Int64("job_id", id).Msg("Local queue full, job left to the poller")
	}

	return nil
}

func (q *Queue) EnqueueVehicleSync(ctx context.Context, vehicleID, action string) error {
	return q.Enqueue(ctx, JobVehicleSync, vehicleID, VehicleSyncPayload{VehicleID: vehicleID, Action: action})
}

func (q *Queue) EnqueueExpenseSync(ctx context.Context, serviceID, vehicleID string, amount float64) error {
	return q.Enqueue(ctx, JobExpenseSync, serviceID, ExpenseSyncPayload{ServiceID: serviceID, VehicleID: vehicleID, Amount: amount})
}

func (q *Queue) EnqueueTokenRefresh(ctx context.Context) error {
	return q.Enqueue(ctx, JobTokenRefresh, "", struct{}{})
}

func (q *Queue) pushRedis(ctx context.Context, job models.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, redisQueueKey, data).Err()
}
