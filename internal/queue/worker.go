package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carlot/internal/database"
	"carlot/internal/integrations"
	"carlot/internal/metrics"
	"carlot/internal/models"
)

// DMSSink is the part of the DMS adapter the consumer needs.
type DMSSink interface {
	UpdateInventory(ctx context.Context, externalID string, v *models.Vehicle) error
	MarkSold(ctx context.Context, externalID string, salePrice float64, saleDate string) error
}

// AccountingSink is the part of the accounting adapter the consumer needs.
type AccountingSink interface {
	AccessToken(ctx context.Context) (string, error)
	CreateExpense(ctx context.Context, s *models.Service, vehicleLabel string) (string, error)
	Refresh(ctx context.Context) error
}

// Worker drains the sync queue: local channel first, then redis, then the
// sqlite poller. Delivery is at-least-once; every handler tolerates replays.
type Worker struct {
	db           *database.DB
	queue        *Queue
	vehicles     VehicleSource
	dms          DMSSink
	accounting   AccountingSink
	redis        *redis.Client
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

func NewWorker(db *database.DB, q *Queue, vehicles VehicleSource, dms DMSSink, accounting AccountingSink, retry RetryPolicy, logger *zerolog.Logger) *Worker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	var redisClient *redis.Client
	if q != nil {
		redisClient = q.redis
	}

	return &Worker{
		db:           db,
		queue:        q,
		vehicles:     vehicles,
		dms:          dms,
		accounting:   accounting,
		redis:        redisClient,
		retryPolicy:  retry,
		pollInterval: 2 * time.Second,
		batchSize:    20,
		logger:       logger,
	}
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

func (w *Worker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sync worker started")
	defer w.logger.Info().Msg("Sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if job, ok := w.tryLocalQueue(); ok {
			w.processJob(ctx, &job)
			continue
		}

		if job, ok := w.tryRedis(ctx); ok {
			w.processJob(ctx, &job)
			continue
		}

		jobs, err := w.db.GetPendingSyncJobs(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending sync jobs")
			sleep(ctx, w.pollInterval)
			continue
		}
		if len(jobs) == 0 {
			sleep(ctx, w.pollInterval)
			continue
		}

		for i := range jobs {
			w.processJob(ctx, &jobs[i])
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) tryLocalQueue() (models.SyncJob, bool) {
	if w.queue == nil {
		return models.SyncJob{}, false
	}
	select {
	case job := <-w.queue.local:
		return job, true
	default:
		return models.SyncJob{}, false
	}
}

func (w *Worker) tryRedis(ctx context.Context) (models.SyncJob, bool) {
	if w.redis == nil {
		return models.SyncJob{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return models.SyncJob{}, false
		}
		w.logger.Error().Err(err).Msg("Redis BRPOP error")
		return models.SyncJob{}, false
	}
	if len(res) != 2 {
		return models.SyncJob{}, false
	}
	var job models.SyncJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis job")
		return models.SyncJob{}, false
	}
	return job, true
}

func (w *Worker) processJob(ctx context.Context, job *models.SyncJob) {
	// A job can arrive twice: once via redis and once via the poller.
	// The claim makes the duplicate a no-op.
	claimed, err := w.db.ClaimSyncJob(ctx, job.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to claim sync job")
		return
	}
	if !claimed {
		return
	}

	err = w.handleJob(ctx, job)
	if err == nil {
		if err := w.db.MarkSyncJobCompleted(ctx, job.ID); err != nil {
			w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job completed")
		}
		metrics.IncSyncJob("completed")
		return
	}

	// A refresh token burns on first use, so replaying the grant can only
	// make things worse. Straight to dead letters.
	if job.JobType == JobTokenRefresh {
		w.failJob(ctx, job, err)
		return
	}

	w.retryOrFail(ctx, job, err)
}

func (w *Worker) handleJob(ctx context.Context, job *models.SyncJob) error {
	switch job.JobType {
	case JobVehicleSync:
		return w.handleVehicleSync(ctx, job)
	case JobExpenseSync:
		return w.handleExpenseSync(ctx, job)
	case JobTokenRefresh:
		return w.accounting.Refresh(ctx)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func (w *Worker) handleVehicleSync(ctx context.Context, job *models.SyncJob) error {
	var payload VehicleSyncPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.VehicleID == "" {
		return errors.New("vehicle id missing")
	}

	v, err := w.vehicles.GetVehicle(ctx, payload.VehicleID)
	if err != nil {
		return err
	}

	// Vehicles the DMS has never seen cannot be pushed back to it. Ack and
	// move on instead of retrying forever.
	if v.ExternalDMSID == "" {
		w.logger.Debug().Str("vehicle_id", v.ID).Msg("Vehicle has no DMS id, skipping sync")
		metrics.IncSyncJob("skipped")
		return nil
	}

	if payload.Action == "sold" && v.SalePrice != nil && v.SaleDate != nil {
		return w.dms.MarkSold(ctx, v.ExternalDMSID, *v.SalePrice, *v.SaleDate)
	}
	return w.dms.UpdateInventory(ctx, v.ExternalDMSID, v)
}

func (w *Worker) handleExpenseSync(ctx context.Context, job *models.SyncJob) error {
	var payload ExpenseSyncPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	// No stored access token means no amount of retrying helps until
	// someone re-authenticates. Ack so the queue does not fill with jobs
	// that can never succeed.
	if _, err := w.accounting.AccessToken(ctx); err != nil {
		if errors.Is(err, integrations.ErrNotAuthenticated) {
			w.logger.Debug().Str("service_id", payload.ServiceID).Msg("No accounting access token, skipping expense")
			metrics.IncSyncJob("skipped")
			return nil
		}
		return err
	}

	services, err := w.db.GetServices(ctx, payload.VehicleID)
	if err != nil {
		return err
	}
	var service *models.Service
	for i := range services {
		if services[i].ID == payload.ServiceID {
			service = &services[i]
			break
		}
	}
	if service == nil {
		return fmt.Errorf("service %s not found", payload.ServiceID)
	}

	label := payload.VehicleID
	if v, err := w.vehicles.GetVehicle(ctx, payload.VehicleID); err == nil {
		label = fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	}

	_, err = w.accounting.CreateExpense(ctx, service, label)
	return err
}

func (w *Worker) retryOrFail(ctx context.Context, job *models.SyncJob, cause error) {
	attempt := job.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failJob(ctx, job, cause)
		return
	}

	delay := w.retryPolicy.NextDelay(attempt)
	if err := w.db.MarkSyncJobRetrying(ctx, job.ID, attempt, cause.Error(), delay); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job for retry")
	}
	metrics.IncSyncJob("retried")
	w.logger.Warn().Err(cause).Int64("job_id", job.ID).Int("attempt", attempt).Dur("next_in", delay).Msg("Sync job will retry")
}

func (w *Worker) failJob(ctx context.Context, job *models.SyncJob, cause error) {
	if err := w.db.MarkSyncJobFailed(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job failed")
	}
	metrics.IncSyncJob("failed")
	w.pushDeadLetter(ctx, job, cause)
	w.logger.Error().Err(cause).Int64("job_id", job.ID).Str("job_type", job.JobType).Msg("Sync job dead-lettered")
}

func (w *Worker) pushDeadLetter(ctx context.Context, job *models.SyncJob, cause error) {
	if w.redis == nil {
		return
	}
	entry := struct {
		models.SyncJob
		Error string `json:"error"`
	}{*job, cause.Error()}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Dead letter push failed")
	}
}
