// Package export renders the inventory and sales spreadsheet handed to
// dealership management.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"carlot/internal/models"
)

const (
	inventorySheet = "Inventory"
	salesSheet     = "Sales"
)

var inventoryHeaders = []string{
	"VIN", "Make", "Model", "Year", "Status", "Mileage",
	"Purchase Price", "Purchase Date", "Service Cost", "Location",
}

var salesHeaders = []string{
	"VIN", "Make", "Model", "Year", "Purchase Price", "Service Cost",
	"Sale Price", "Sale Date", "Profit",
}

// BuildInventoryReport builds a two-sheet workbook: the full lot and the
// sold subset with per-vehicle profit.
func BuildInventoryReport(vehicles []models.Vehicle, services []models.Service) (*excelize.File, error) {
	f := excelize.NewFile()

	serviceCost := make(map[string]float64)
	for _, s := range services {
		serviceCost[s.VehicleID] += s.Cost
	}

	if err := f.SetSheetName("Sheet1", inventorySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(salesSheet); err != nil {
		return nil, err
	}

	if err := writeRow(f, inventorySheet, 1, toCells(inventoryHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, salesSheet, 1, toCells(salesHeaders)); err != nil {
		return nil, err
	}

	invRow, salesRow := 2, 2
	for i := range vehicles {
		v := &vehicles[i]
		cost := serviceCost[v.ID]

		err := writeRow(f, inventorySheet, invRow, []interface{}{
			v.VIN, v.Make, v.Model, v.Year, v.Status, v.Mileage,
			v.PurchasePrice, v.PurchaseDate, cost, v.Location,
		})
		if err != nil {
			return nil, err
		}
		invRow++

		if !v.Sold() {
			continue
		}

		salePrice := *v.SalePrice
		saleDate := ""
		if v.SaleDate != nil {
			saleDate = *v.SaleDate
		}
		profit := salePrice - v.PurchasePrice - cost

		err = writeRow(f, salesSheet, salesRow, []interface{}{
			v.VIN, v.Make, v.Model, v.Year, v.PurchasePrice, cost,
			salePrice, saleDate, profit,
		})
		if err != nil {
			return nil, err
		}
		salesRow++
	}

	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}
