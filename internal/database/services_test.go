package database

import (
	"context"
	"testing"

	"carlot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServices(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.UpsertVehicle(ctx, testVehicle("veh-1", "VIN0001")))

	services := []models.Service{
		{ID: "svc-1", VehicleID: "veh-1", ServiceType: "detail", Cost: 150, ServiceDate: "2026-08-10"},
		{ID: "svc-2", VehicleID: "veh-1", ServiceType: "brakes", Cost: 420.50, ServiceDate: "2026-08-12"},
		{ID: "svc-3", VehicleID: "veh-2", ServiceType: "oil", Cost: 60, ServiceDate: "2026-08-12"},
	}
	for i := range services {
		require.NoError(t, db.CreateService(ctx, &services[i]))
	}

	got, err := db.GetServices(ctx, "veh-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := db.GetAllServices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestComments(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	require.NoError(t, db.CreateComment(ctx, &models.Comment{
		ID: "c-1", EntityType: models.EntityTypeVehicle, EntityID: "veh-1", UserName: "sara", Comment: "needs new tires",
	}))
	require.NoError(t, db.CreateComment(ctx, &models.Comment{
		ID: "c-2", EntityType: models.EntityTypeVehicle, EntityID: "veh-1", UserName: "mike", Comment: "ordered",
	}))
	require.NoError(t, db.CreateComment(ctx, &models.Comment{
		ID: "c-3", EntityType: models.EntityTypeTask, EntityID: "task-1", UserName: "mike", Comment: "done",
	}))

	got, err := db.GetComments(ctx, models.EntityTypeVehicle, "veh-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "needs new tires", got[0].Comment)
	assert.Equal(t, "ordered", got[1].Comment)
}
