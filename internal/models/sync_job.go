package models

import "time"

// SyncJob is the durable record of a queued integration job. Live dispatch
// goes over redis; this row is the poll fallback and the retry ledger.
type SyncJob struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	EntityID    string     `json:"entity_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
