package models

import "time"

// Comment attaches free-text discussion to a vehicle, task or service.
// Append-only, displayed oldest first.
type Comment struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"` // vehicle, task, service
	EntityID   string    `json:"entityId"`
	UserName   string    `json:"userName"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
}
