package models

import "time"

// Service is a maintenance/repair record for a vehicle. Append-only: there
// is no update or delete path anywhere in the system.
type Service struct {
	ID          string    `json:"id"`
	VehicleID   string    `json:"vehicleId"`
	ServiceType string    `json:"serviceType"`
	Description string    `json:"description"`
	Cost        float64   `json:"cost"`
	ServiceDate string    `json:"serviceDate"`
	CreatedAt   time.Time `json:"createdAt"`
}
