package queue

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"carlot/internal/events"
)

// SubscribeEvents wires committed coordinator mutations to queue enqueues.
// The bus fires only after the mutation is persisted, so everything that
// reaches here is safe to sync.
func SubscribeEvents(bus *events.EventBus, q *Queue, logger *zerolog.Logger) {
	bus.Subscribe(events.EventVehicleUpdated, func(event *events.Event) error {
		var payload events.VehicleEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		if err := q.EnqueueVehicleSync(context.Background(), payload.VehicleID, payload.Action); err != nil {
			logger.Error().Err(err).Str("vehicle_id", payload.VehicleID).Msg("Failed to enqueue vehicle sync")
			return err
		}
		return nil
	})

	bus.Subscribe(events.EventServiceAdded, func(event *events.Event) error {
		var payload events.ServiceEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		if err := q.EnqueueExpenseSync(context.Background(), payload.ServiceID, payload.VehicleID, payload.Amount); err != nil {
			logger.Error().Err(err).Str("service_id", payload.ServiceID).Msg("Failed to enqueue expense sync")
			return err
		}
		return nil
	})

	bus.Subscribe(events.EventTokenExpiring, func(event *events.Event) error {
		if err := q.EnqueueTokenRefresh(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to enqueue token refresh")
			return err
		}
		return nil
	})
}
