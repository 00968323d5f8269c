package database

import (
	"context"
	"database/sql"
	"time"

	"carlot/internal/models"
)

// CreateSyncJob ставит задание в очередь синхронизации
func (db *DB) CreateSyncJob(ctx context.Context, jobType, entityID, payload string) (int64, error) {
	res, err := db.ExecContext(ctx, `
        INSERT INTO sync_queue (job_type, entity_id, payload, status)
        VALUES (?, ?, ?, 'pending')`,
		jobType, entityID, payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPendingSyncJobs возвращает задания, готовые к обработке: pending и
// retrying с наступившим next_retry_at
func (db *DB) GetPendingSyncJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, job_type, entity_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
        FROM sync_queue
        WHERE status = 'pending' OR (status = 'retrying' AND next_retry_at <= ?)
        ORDER BY created_at ASC
        LIMIT ?`, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	return scanSyncJobs(rows)
}

func scanSyncJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	defer rows.Close()
	var jobs []models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		err := rows.Scan(
			&job.ID, &job.JobType, &job.EntityID, &job.Payload,
			&job.Status, &job.RetryCount, &job.LastError,
			&job.CreatedAt, &job.ProcessedAt, &job.NextRetryAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (db *DB) GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error) {
	var job models.SyncJob
	err := db.QueryRowContext(ctx, `
        SELECT id, job_type, entity_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
        FROM sync_queue WHERE id = ?`, id).Scan(
		&job.ID, &job.JobType, &job.EntityID, &job.Payload,
		&job.Status, &job.RetryCount, &job.LastError,
		&job.CreatedAt, &job.ProcessedAt, &job.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkSyncJobCompleted фиксирует успешную обработку
func (db *DB) MarkSyncJobCompleted(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'completed', processed_at = ?, next_retry_at = NULL
        WHERE id = ?`, time.Now(), id)
	return err
}

// MarkSyncJobRetrying планирует повтор через delay
func (db *DB) MarkSyncJobRetrying(ctx context.Context, id int64, retryCount int, lastError string, delay time.Duration) error {
	_, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'retrying', retry_count = ?, last_error = ?, next_retry_at = ?
        WHERE id = ?`, retryCount, lastError, time.Now().Add(delay), id)
	return err
}

// MarkSyncJobFailed переводит задание в мертвые после исчерпания повторов
func (db *DB) MarkSyncJobFailed(ctx context.Context, id int64, lastError string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'failed', last_error = ?, processed_at = ?
        WHERE id = ?`, lastError, time.Now(), id)
	return err
}

// ClaimSyncJob помечает задание взятым в работу; возвращает false, если его
// уже забрал другой воркер
func (db *DB) ClaimSyncJob(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'processing'
        WHERE id = ? AND status IN ('pending', 'retrying')`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetFailedSyncJobs возвращает мертвые задания для ручного разбора
func (db *DB) GetFailedSyncJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, job_type, entity_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
        FROM sync_queue WHERE status = 'failed'
        ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanSyncJobs(rows)
}
