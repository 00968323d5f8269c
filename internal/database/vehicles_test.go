package database

import (
	"context"
	"os"
	"testing"
	"time"

	"carlot/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func testVehicle(id, vin string) *models.Vehicle {
	return &models.Vehicle{
		ID:               id,
		VIN:              vin,
		Make:             "Honda",
		Model:            "Civic",
		Year:             2021,
		PurchasePrice:    10000,
		PurchaseDate:     "2026-08-01",
		Status:           models.VehicleStatusAvailable,
		Mileage:          42000,
		PublishToWebsite: true,
	}
}

func TestUpsertVehicle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	v := testVehicle("veh-1", "1HGBH41JXMN109186")
	require.NoError(t, db.UpsertVehicle(ctx, v))

	got, err := db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, "Honda", got.Make)
	assert.Nil(t, got.SalePrice)
	createdAt := got.CreatedAt

	// Replay the same upsert with changed fields: created_at must survive
	price := 15000.0
	date := "2026-08-20"
	v.SalePrice = &price
	v.SaleDate = &date
	v.Status = models.VehicleStatusSold
	require.NoError(t, db.UpsertVehicle(ctx, v))

	got, err = db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusSold, got.Status)
	require.NotNil(t, got.SalePrice)
	assert.Equal(t, 15000.0, *got.SalePrice)
	assert.Equal(t, createdAt, got.CreatedAt)

	// Still exactly one row
	vehicles, err := db.GetVehicles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
}

func TestGetVehicle_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetVehicle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertVehicleFromDMS(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	// Existing vehicle with local-only state
	v := testVehicle("veh-1", "VIN0001")
	require.NoError(t, db.UpsertVehicle(ctx, v))
	require.NoError(t, db.SetAccountingInvoiceID(ctx, "veh-1", "inv-9"))

	// The DMS feed carries the same VIN under its own id
	incoming := testVehicle("dms-generated-id", "VIN0001")
	incoming.Mileage = 45000
	incoming.ExternalDMSID = "dms-77"
	incoming.ExternalDMSSource = "dealertrack"
	require.NoError(t, db.UpsertVehicleFromDMS(ctx, incoming))

	got, err := db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(45000), got.Mileage)
	assert.Equal(t, "dms-77", got.ExternalDMSID)
	// Local-only fields survive the DMS upsert
	assert.Equal(t, "inv-9", got.AccountingInvoiceID)
	assert.True(t, got.PublishToWebsite)

	vehicles, err := db.GetVehicles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
}

func TestGetPublicVehicles_Filter(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	available := testVehicle("veh-1", "VIN0001")
	require.NoError(t, db.UpsertVehicle(ctx, available))

	unpublished := testVehicle("veh-2", "VIN0002")
	unpublished.PublishToWebsite = false
	require.NoError(t, db.UpsertVehicle(ctx, unpublished))

	sold := testVehicle("veh-3", "VIN0003")
	sold.Status = models.VehicleStatusSold
	require.NoError(t, db.UpsertVehicle(ctx, sold))

	public, err := db.GetPublicVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "veh-1", public[0].ID)

	_, err = db.GetPublicVehicle(ctx, "veh-3")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetPublicVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, "VIN0001", got.VIN)
}

func TestMarkVehicleSoldByVIN(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	require.NoError(t, db.UpsertVehicle(ctx, testVehicle("veh-1", "VIN0001")))

	err := db.MarkVehicleSoldByVIN(ctx, "VIN0001", 13500, "2026-08-25")
	require.NoError(t, err)

	got, err := db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusSold, got.Status)
	require.NotNil(t, got.SalePrice)
	assert.Equal(t, 13500.0, *got.SalePrice)

	err = db.MarkVehicleSoldByVIN(ctx, "NOSUCHVIN", 1, "2026-08-25")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetListingID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.UpsertVehicle(ctx, testVehicle("veh-1", "VIN0001")))

	require.NoError(t, db.SetListingID(ctx, "veh-1", "cargurus", "cg-123"))
	require.NoError(t, db.SetListingID(ctx, "veh-1", "kbb", "kbb-9"))

	err := db.SetListingID(ctx, "veh-1", "status = 'sold' --", "x")
	assert.Error(t, err)

	got, err := db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, "cg-123", got.CarGurusListingID)
	assert.Equal(t, "kbb-9", got.KBBListingID)
	assert.Equal(t, "", got.TrueCarListingID)

	count, err := db.CountPublishedListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetRecentUninvoicedSales(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	recent := testVehicle("veh-1", "VIN0001")
	price := 12000.0
	date := time.Now().AddDate(0, 0, -2).Format("2006-01-02")
	recent.SalePrice = &price
	recent.SaleDate = &date
	recent.Status = models.VehicleStatusSold
	require.NoError(t, db.UpsertVehicle(ctx, recent))

	stale := testVehicle("veh-2", "VIN0002")
	staleDate := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	stale.SalePrice = &price
	stale.SaleDate = &staleDate
	stale.Status = models.VehicleStatusSold
	require.NoError(t, db.UpsertVehicle(ctx, stale))

	invoiced := testVehicle("veh-3", "VIN0003")
	invoiced.SalePrice = &price
	invoiced.SaleDate = &date
	invoiced.Status = models.VehicleStatusSold
	require.NoError(t, db.UpsertVehicle(ctx, invoiced))
	require.NoError(t, db.SetAccountingInvoiceID(ctx, "veh-3", "inv-1"))

	sales, err := db.GetRecentUninvoicedSales(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "veh-1", sales[0].ID)
}
