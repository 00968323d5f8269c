package models

const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

const (
	VehicleStatusAvailable = "available"
	VehicleStatusReserved  = "reserved"
	VehicleStatusSold      = "sold"
)

const (
	EntityTypeVehicle = "vehicle"
	EntityTypeTask    = "task"
	EntityTypeService = "service"
)

const (
	// SnapshotLimit bounds the tasks/vehicles sent in the connect snapshot.
	SnapshotLimit = 100

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// OAuthStateTTL время жизни анти-CSRF nonce в Redis
	OAuthStateTTL = 600 // 10 минут в секундах

	// PublicCacheMaxAge Cache-Control max-age для публичной витрины
	PublicCacheMaxAge = 300
)
