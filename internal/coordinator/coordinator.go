// Package coordinator is the real-time heart of the dealership tool. One
// goroutine owns the connection set and applies every mutation in arrival
// order: persist first, then fan the original frame out to every live
// connection, then raise the domain event that feeds the sync queue. A
// frame that fails to persist is dropped without broadcast, so every
// client view stays a replay of committed state.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carlot/internal/database"
	"carlot/internal/events"
	"carlot/internal/metrics"
	"carlot/internal/models"
)

type frame struct {
	data   []byte
	source *Client    // nil when the mutation came over HTTP
	reply  chan error // nil for fire-and-forget websocket frames
	relay  bool       // broadcast only, already committed elsewhere
}

type Coordinator struct {
	db     *database.DB
	bus    *events.EventBus
	logger *zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan frame
}

func New(db *database.DB, bus *events.EventBus, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:         db,
		bus:        bus,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 64),
	}
}

// Run owns all coordinator state. Nothing outside this loop touches the
// client set, so mutations need no locks and arrive in a total order.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info().Msg("Coordinator started")
	defer c.logger.Info().Msg("Coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			for client := range c.clients {
				close(client.send)
				delete(c.clients, client)
			}
			return

		case client := <-c.register:
			c.clients[client] = true
			metrics.IncConnections()
			c.sendSnapshot(ctx, client)

		case client := <-c.unregister:
			if _, ok := c.clients[client]; ok {
				delete(c.clients, client)
				close(client.send)
				metrics.DecConnections()
			}

		case f := <-c.inbound:
			err := c.handleFrame(ctx, f)
			if f.reply != nil {
				f.reply <- err
			}
		}
	}
}

// Apply runs a mutation through the coordinator loop and waits for the
// persistence result. HTTP handlers use this so REST writes share the
// ordering and broadcast path with websocket frames.
func (c *Coordinator) Apply(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(models.Message{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	select {
	case c.inbound <- frame{data: data, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify fans a server-originated frame out to every live connection
// without running the mutation handlers. Used for changes committed
// outside the loop, like DMS webhook writes.
func (c *Coordinator) Notify(ctx context.Context, msgType, source string) error {
	data, err := json.Marshal(models.Message{Type: msgType, Source: source})
	if err != nil {
		return err
	}

	select {
	case c.inbound <- frame{data: data, relay: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendSnapshot delivers current state to a newly registered client.
func (c *Coordinator) sendSnapshot(ctx context.Context, client *Client) {
	tasks, err := c.db.GetTasks(ctx, models.SnapshotLimit)
	if err != nil {
		c.logger.Error().Err(err).Msg("Snapshot tasks query failed")
		return
	}
	vehicles, err := c.db.GetVehicles(ctx, models.SnapshotLimit)
	if err != nil {
		c.logger.Error().Err(err).Msg("Snapshot vehicles query failed")
		return
	}

	if tasks == nil {
		tasks = []models.Task{}
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}

	state, err := json.Marshal(models.StateData{Tasks: tasks, Vehicles: vehicles})
	if err != nil {
		c.logger.Error().Err(err).Msg("Snapshot encode failed")
		return
	}
	msg, err := json.Marshal(models.Message{Type: models.MsgState, Data: state})
	if err != nil {
		return
	}

	select {
	case client.send <- msg:
	default:
		c.logger.Warn().Msg("Client send buffer full on snapshot, dropping connection")
		delete(c.clients, client)
		close(client.send)
		metrics.DecConnections()
	}
}

func (c *Coordinator) handleFrame(ctx context.Context, f frame) error {
	if f.relay {
		c.broadcast(f.data)
		return nil
	}

	var msg models.Message
	if err := json.Unmarshal(f.data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed frame")
		return fmt.Errorf("malformed frame: %w", err)
	}

	payload := msg.Payload
	if payload == nil {
		payload = msg.Data
	}

	var err error
	var event func()

	switch msg.Type {
	case models.MsgTaskUpdate:
		err = c.applyTaskUpdate(ctx, payload)

	case models.MsgInventoryUpdate, models.MsgVehicleSold:
		event, err = c.applyInventoryUpdate(ctx, payload, msg.Type == models.MsgVehicleSold)

	case models.MsgCommentAdd:
		err = c.applyCommentAdd(ctx, payload)

	case models.MsgServiceAdd:
		event, err = c.applyServiceAdd(ctx, payload)

	default:
		// Fail closed: a client must not be able to inject arbitrary
		// frames into everyone else's feed.
		c.logger.Warn().Str("type", msg.Type).Msg("Dropping unknown frame type")
		return fmt.Errorf("unknown frame type: %s", msg.Type)
	}

	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("Mutation rejected")
		return err
	}

	// Committed: every connection sees the exact frame that was applied.
	c.broadcast(f.data)
	if event != nil {
		event()
	}
	return nil
}

func (c *Coordinator) applyTaskUpdate(ctx context.Context, payload json.RawMessage) error {
	var task models.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.Title == "" {
		return errors.New("task title is required")
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	return c.db.UpsertTask(ctx, &task)
}

func (c *Coordinator) applyInventoryUpdate(ctx context.Context, payload json.RawMessage, forceSold bool) (func(), error) {
	var vehicle models.Vehicle
	if err := json.Unmarshal(payload, &vehicle); err != nil {
		return nil, fmt.Errorf("decode vehicle: %w", err)
	}
	if vehicle.ID == "" {
		return nil, errors.New("vehicle id is required")
	}
	if vehicle.VIN == "" {
		return nil, errors.New("vehicle vin is required")
	}
	if forceSold {
		vehicle.Status = models.VehicleStatusSold
	}
	if vehicle.Status == "" {
		vehicle.Status = models.VehicleStatusAvailable
	}

	if err := c.db.UpsertVehicle(ctx, &vehicle); err != nil {
		return nil, err
	}

	// Every committed change syncs outward; the consumer decides what a
	// DMS-unknown vehicle means.
	action := "update"
	if vehicle.SaleDate != nil && *vehicle.SaleDate != "" {
		action = "sold"
	}
	return func() {
		c.publishEvent(events.EventVehicleUpdated, events.VehicleEventPayload{VehicleID: vehicle.ID, Action: action})
	}, nil
}

func (c *Coordinator) applyCommentAdd(ctx context.Context, payload json.RawMessage) error {
	var comment models.Comment
	if err := json.Unmarshal(payload, &comment); err != nil {
		return fmt.Errorf("decode comment: %w", err)
	}
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.EntityType == "" || comment.EntityID == "" {
		return errors.New("comment entity is required")
	}
	if comment.Comment == "" {
		return errors.New("comment text is required")
	}
	return c.db.CreateComment(ctx, &comment)
}

func (c *Coordinator) applyServiceAdd(ctx context.Context, payload json.RawMessage) (func(), error) {
	var service models.Service
	if err := json.Unmarshal(payload, &service); err != nil {
		return nil, fmt.Errorf("decode service: %w", err)
	}
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	if service.VehicleID == "" {
		return nil, errors.New("service vehicle id is required")
	}
	if service.Cost < 0 {
		return nil, errors.New("service cost cannot be negative")
	}

	if err := c.db.CreateService(ctx, &service); err != nil {
		return nil, err
	}

	return func() {
		c.publishEvent(events.EventServiceAdded, events.ServiceEventPayload{
			ServiceID: service.ID,
			VehicleID: service.VehicleID,
			Amount:    service.Cost,
		})
	}, nil
}

func (c *Coordinator) publishEvent(eventType string, payload interface{}) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Error().Err(err).Str("event", eventType).Msg("Event publish failed")
	}
}

// broadcast fans the raw frame out to every connection, sender included.
// A connection that cannot keep up is dropped rather than allowed to
// stall the loop.
func (c *Coordinator) broadcast(data []byte) {
	metrics.IncBroadcast()
	for client := range c.clients {
		select {
		case client.send <- data:
		default:
			metrics.IncBroadcastFailure()
			delete(c.clients, client)
			close(client.send)
			metrics.DecConnections()
		}
	}
}
