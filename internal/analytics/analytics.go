// Package analytics computes dealership profitability figures from the
// current inventory and the service history. Monetary sums are accumulated
// as decimals and rounded to cents only at the edges.
package analytics

import (
	"github.com/shopspring/decimal"

	"carlot/internal/models"
)

type Report struct {
	TotalVehicles    int     `json:"totalVehicles"`
	AvailableCount   int     `json:"availableCount"`
	ReservedCount    int     `json:"reservedCount"`
	SoldCount        int     `json:"soldCount"`
	InventoryCount   int     `json:"inventoryCount"`
	TotalRevenue     float64 `json:"totalRevenue"`
	TotalCost        float64 `json:"totalCost"`
	TotalProfit      float64 `json:"totalProfit"`
	ProfitMargin     float64 `json:"profitMargin"`
	AvgProfitPerSale float64 `json:"avgProfitPerSale"`
	InventoryValue   float64 `json:"inventoryValue"`
	TotalServiceCost float64 `json:"totalServiceCost"`
}

// Calculate builds the report. Every purchase price and every service cost
// goes into total cost regardless of status; revenue counts sold vehicles
// only, so profit runs negative while the lot is stocked but not selling.
// InventoryValue is the purchase price of everything not yet sold.
func Calculate(vehicles []models.Vehicle, services []models.Service) Report {
	totalServiceCost := decimal.Zero
	for _, s := range services {
		totalServiceCost = totalServiceCost.Add(decimal.NewFromFloat(s.Cost))
	}

	var report Report
	revenue := decimal.Zero
	cost := totalServiceCost
	inventoryValue := decimal.Zero

	for _, v := range vehicles {
		report.TotalVehicles++
		cost = cost.Add(decimal.NewFromFloat(v.PurchasePrice))

		switch v.Status {
		case models.VehicleStatusAvailable:
			report.AvailableCount++
		case models.VehicleStatusReserved:
			report.ReservedCount++
		}

		if v.Sold() {
			report.SoldCount++
			revenue = revenue.Add(decimal.NewFromFloat(*v.SalePrice))
		} else if v.Status != models.VehicleStatusSold {
			report.InventoryCount++
			inventoryValue = inventoryValue.Add(decimal.NewFromFloat(v.PurchasePrice))
		}
	}

	profit := revenue.Sub(cost)

	report.TotalRevenue = round2(revenue)
	report.TotalCost = round2(cost)
	report.TotalProfit = round2(profit)
	report.InventoryValue = round2(inventoryValue)
	report.TotalServiceCost = round2(totalServiceCost)

	if revenue.IsPositive() {
		margin := profit.Div(revenue).Mul(decimal.NewFromInt(100))
		report.ProfitMargin = round2(margin)
	}
	if report.SoldCount > 0 {
		avg := profit.Div(decimal.NewFromInt(int64(report.SoldCount)))
		report.AvgProfitPerSale = round2(avg)
	}

	return report
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
