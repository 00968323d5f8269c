package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carlot/internal/models"
)

func TestBuildInventoryReport(t *testing.T) {
	price := 15000.0
	date := "2026-08-20"
	vehicles := []models.Vehicle{
		{
			ID: "veh-1", VIN: "VIN0001", Make: "Honda", Model: "Civic", Year: 2021,
			PurchasePrice: 10000, Status: models.VehicleStatusSold,
			SalePrice: &price, SaleDate: &date,
		},
		{
			ID: "veh-2", VIN: "VIN0002", Make: "Ford", Model: "F-150", Year: 2019,
			PurchasePrice: 22000, Status: models.VehicleStatusAvailable,
		},
	}
	services := []models.Service{
		{ID: "svc-1", VehicleID: "veh-1", Cost: 500},
	}

	f, err := BuildInventoryReport(vehicles, services)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(inventorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 vehicles
	assert.Equal(t, "VIN", rows[0][0])
	assert.Equal(t, "VIN0001", rows[1][0])
	assert.Equal(t, "VIN0002", rows[2][0])

	// Only the sold vehicle appears on the sales sheet
	sales, err := f.GetRows(salesSheet)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "VIN0001", sales[1][0])
	// profit = 15000 - 10000 - 500
	assert.Equal(t, "4500", sales[1][8])
}

func TestBuildInventoryReport_Empty(t *testing.T) {
	f, err := BuildInventoryReport(nil, nil)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(inventorySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
