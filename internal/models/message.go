package models

import "encoding/json"

// Websocket frame types. Clients send task_update/inventory_update/
// comment_add; the server additionally originates state, service_add and
// vehicle_sold frames.
const (
	MsgState           = "state"
	MsgTaskUpdate      = "task_update"
	MsgInventoryUpdate = "inventory_update"
	MsgCommentAdd      = "comment_add"
	MsgServiceAdd      = "service_add"
	MsgVehicleSold     = "vehicle_sold"
)

// Message is the tagged envelope of every websocket frame. Payload stays
// raw until the type is known; unrecognized types are logged and dropped
// at the boundary.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Source  string          `json:"source,omitempty"`
}

// StateData is the snapshot sent to a freshly connected client.
type StateData struct {
	Tasks    []Task    `json:"tasks"`
	Vehicles []Vehicle `json:"vehicles"`
}
