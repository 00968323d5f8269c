package queue

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"carlot/internal/database"
	"carlot/internal/events"
	"carlot/internal/integrations"
	"carlot/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessJobVehicleSync(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	price := 15000.0
	date := "2026-08-25"
	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", ExternalDMSID: "dms-1", SalePrice: &price, SaleDate: &date},
	}}
	dms := &fakeDMS{}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{}, &logger)

	ctx := context.Background()
	if err := q.EnqueueVehicleSync(ctx, "veh-1", "update"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected job in local queue")
	}
	worker.processJob(ctx, &job)

	status, retryCount, _ := loadJobStatus(t, db, job.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if dms.updateCalls != 1 || dms.soldCalls != 0 {
		t.Fatalf("expected 1 update call, got update=%d sold=%d", dms.updateCalls, dms.soldCalls)
	}
}

func TestProcessJobVehicleSync_SoldAction(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	price := 15000.0
	date := "2026-08-25"
	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", ExternalDMSID: "dms-1", SalePrice: &price, SaleDate: &date},
	}}
	dms := &fakeDMS{}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{}, &logger)

	ctx := context.Background()
	q.EnqueueVehicleSync(ctx, "veh-1", "sold")
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	if dms.soldCalls != 1 {
		t.Fatalf("expected 1 sold call, got %d", dms.soldCalls)
	}
	if dms.lastSoldPrice != 15000 || dms.lastSoldDate != "2026-08-25" {
		t.Fatalf("unexpected sold args: %v %s", dms.lastSoldPrice, dms.lastSoldDate)
	}
}

func TestProcessJobVehicleSync_SkipsWithoutDMSID(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	// Never seen by the DMS: no external id
	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1"},
	}}
	dms := &fakeDMS{}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{}, &logger)

	ctx := context.Background()
	q.EnqueueVehicleSync(ctx, "veh-1", "update")
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, _, _ := loadJobStatus(t, db, job.ID)
	if status != "completed" {
		t.Fatalf("expected skip to ack as completed, got %s", status)
	}
	if dms.updateCalls != 0 || dms.soldCalls != 0 {
		t.Fatalf("expected no dms calls")
	}
}

func TestProcessJobRetry(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", ExternalDMSID: "dms-1"},
	}}
	dms := &fakeDMS{err: errors.New("dms down")}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, &logger)

	ctx := context.Background()
	q.EnqueueVehicleSync(ctx, "veh-1", "update")
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, retryCount, nextRetry := loadJobStatus(t, db, job.ID)
	if status != "retrying" {
		t.Fatalf("expected status=retrying, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessJobFail(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", ExternalDMSID: "dms-1"},
	}}
	dms := &fakeDMS{err: errors.New("fatal")}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{MaxRetries: 1}, &logger)

	ctx := context.Background()
	q.EnqueueVehicleSync(ctx, "veh-1", "update")
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, _, _ := loadJobStatus(t, db, job.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessJobTokenRefresh_NeverRetries(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	accounting := &fakeAccounting{refreshErr: errors.New("invalid_grant")}
	worker := NewWorker(db, q, &fakeVehicleSource{}, &fakeDMS{}, accounting, RetryPolicy{MaxRetries: 5}, &logger)

	ctx := context.Background()
	q.EnqueueTokenRefresh(ctx)
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	// Retries would burn the grant again, so the job goes straight to failed
	status, retryCount, _ := loadJobStatus(t, db, job.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected no retries, got %d", retryCount)
	}
}

func TestProcessJobExpenseSync(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	ctx := context.Background()
	service := &models.Service{ID: "svc-1", VehicleID: "veh-1", ServiceType: "brakes", Cost: 420}
	if err := db.CreateService(ctx, service); err != nil {
		t.Fatalf("create service: %v", err)
	}

	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", Year: 2021, Make: "Honda", Model: "Civic"},
	}}
	accounting := &fakeAccounting{token: "tok"}
	worker := NewWorker(db, q, vehicles, &fakeDMS{}, accounting, RetryPolicy{}, &logger)

	q.EnqueueExpenseSync(ctx, "svc-1", "veh-1", 420)
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, _, _ := loadJobStatus(t, db, job.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if accounting.expenseCalls != 1 {
		t.Fatalf("expected 1 expense call, got %d", accounting.expenseCalls)
	}
}

func TestProcessJobExpenseSync_AckWithoutToken(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	// No stored access token: retrying cannot help, the job is acked
	accounting := &fakeAccounting{}
	worker := NewWorker(db, q, &fakeVehicleSource{}, &fakeDMS{}, accounting, RetryPolicy{}, &logger)

	ctx := context.Background()
	q.EnqueueExpenseSync(ctx, "svc-1", "veh-1", 100)
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, _, _ := loadJobStatus(t, db, job.ID)
	if status != "completed" {
		t.Fatalf("expected ack without access token, got %s", status)
	}
	if accounting.expenseCalls != 0 {
		t.Fatalf("expected no expense calls, got %d", accounting.expenseCalls)
	}
}

func TestProcessJobExpenseSync_TokenReadErrorRetries(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	// A credential store outage is transient, unlike a missing token
	accounting := &fakeAccounting{tokenErr: errors.New("kv store down")}
	worker := NewWorker(db, q, &fakeVehicleSource{}, &fakeDMS{}, accounting, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, &logger)

	ctx := context.Background()
	q.EnqueueExpenseSync(ctx, "svc-1", "veh-1", 100)
	job, _ := worker.tryLocalQueue()
	worker.processJob(ctx, &job)

	status, retryCount, _ := loadJobStatus(t, db, job.ID)
	if status != "retrying" {
		t.Fatalf("expected status=retrying, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
}

func TestProcessJob_DuplicateDelivery(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	vehicles := &fakeVehicleSource{vehicles: map[string]*models.Vehicle{
		"veh-1": {ID: "veh-1", ExternalDMSID: "dms-1"},
	}}
	dms := &fakeDMS{}
	worker := NewWorker(db, q, vehicles, dms, &fakeAccounting{}, RetryPolicy{}, &logger)

	ctx := context.Background()
	q.EnqueueVehicleSync(ctx, "veh-1", "update")
	job, _ := worker.tryLocalQueue()

	// Same job arrives twice (redis and poller); the claim dedupes it
	worker.processJob(ctx, &job)
	worker.processJob(ctx, &job)

	if dms.updateCalls != 1 {
		t.Fatalf("expected 1 update call after duplicate delivery, got %d", dms.updateCalls)
	}
}

func TestEnqueue_RedisSchedule(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, client, &logger)

	ctx := context.Background()
	if err := q.EnqueueVehicleSync(ctx, "veh-1", "update"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	length, err := client.LLen(ctx, redisQueueKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected 1 job in redis, got %d", length)
	}

	// Job is in sqlite too: redis loss would not lose it
	jobs, err := db.GetPendingSyncJobs(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 persisted job, got %d", len(jobs))
	}
}

func TestTryRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, client, &logger)
	worker := NewWorker(db, q, &fakeVehicleSource{}, &fakeDMS{}, &fakeAccounting{}, RetryPolicy{}, &logger)

	ctx := context.Background()
	if err := q.EnqueueVehicleSync(ctx, "veh-9", "update"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected job from redis")
	}
	if job.JobType != JobVehicleSync || job.EntityID != "veh-9" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSubscribeEvents(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	q := NewQueue(db, nil, &logger)

	bus := events.NewEventBus()
	SubscribeEvents(bus, q, &logger)

	bus.PublishJSON(events.EventVehicleUpdated, events.VehicleEventPayload{VehicleID: "veh-1", Action: "sold"})
	bus.PublishJSON(events.EventServiceAdded, events.ServiceEventPayload{ServiceID: "svc-1", VehicleID: "veh-1", Amount: 99})
	bus.PublishJSON(events.EventTokenExpiring, struct{}{})

	jobs, err := db.GetPendingSyncJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	types := map[string]bool{}
	for _, job := range jobs {
		types[job.JobType] = true
	}
	for _, want := range []string{JobVehicleSync, JobExpenseSync, JobTokenRefresh} {
		if !types[want] {
			t.Fatalf("missing job type %s", want)
		}
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	if d := policy.NextDelay(1); d != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d)
	}
	if d := policy.NextDelay(2); d != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d)
	}
	if d := policy.NextDelay(5); d != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d)
	}
}

// Helpers

type fakeVehicleSource struct {
	vehicles map[string]*models.Vehicle
}

func (f *fakeVehicleSource) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, ok := f.vehicles[id]
	if !ok {
		return nil, errors.New("vehicle not found")
	}
	return v, nil
}

type fakeDMS struct {
	err           error
	updateCalls   int
	soldCalls     int
	lastSoldPrice float64
	lastSoldDate  string
}

func (f *fakeDMS) UpdateInventory(ctx context.Context, externalID string, v *models.Vehicle) error {
	f.updateCalls++
	return f.err
}

func (f *fakeDMS) MarkSold(ctx context.Context, externalID string, salePrice float64, saleDate string) error {
	f.soldCalls++
	f.lastSoldPrice = salePrice
	f.lastSoldDate = saleDate
	return f.err
}

type fakeAccounting struct {
	token        string
	tokenErr     error
	refreshErr   error
	expenseErr   error
	expenseCalls int
}

func (f *fakeAccounting) AccessToken(ctx context.Context) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	if f.token == "" {
		return "", integrations.ErrNotAuthenticated
	}
	return f.token, nil
}

func (f *fakeAccounting) CreateExpense(ctx context.Context, s *models.Service, vehicleLabel string) (string, error) {
	f.expenseCalls++
	return "exp-1", f.expenseErr
}

func (f *fakeAccounting) Refresh(ctx context.Context) error {
	return f.refreshErr
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadJobStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan job: %v", err)
	}
	return status, retryCount, nextRetry
}
