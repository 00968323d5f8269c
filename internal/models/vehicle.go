package models

import "time"

type Vehicle struct {
	ID                  string    `json:"id"`
	VIN                 string    `json:"vin"`
	Make                string    `json:"make"`
	Model               string    `json:"model"`
	Year                int       `json:"year"`
	PurchasePrice       float64   `json:"purchasePrice"`
	PurchaseDate        string    `json:"purchaseDate"`
	SalePrice           *float64  `json:"salePrice,omitempty"`
	SaleDate            *string   `json:"saleDate,omitempty"`
	Status              string    `json:"status"` // available, reserved, sold
	Location            string    `json:"location"`
	Mileage             int64     `json:"mileage"`
	Color               string    `json:"color"`
	BodyStyle           string    `json:"bodyStyle"`
	Transmission        string    `json:"transmission"`
	FuelType            string    `json:"fuelType"`
	Description         string    `json:"description"`
	Features            string    `json:"features"`
	Images              string    `json:"images"`
	PublishToWebsite    bool      `json:"publishToWebsite"`
	PublishToThirdParty bool      `json:"publishToThirdParty"`
	ExternalDMSID       string    `json:"externalDmsId,omitempty"`
	ExternalDMSSource   string    `json:"externalDmsSource,omitempty"`
	AccountingInvoiceID string    `json:"accountingInvoiceId,omitempty"`
	CarGurusListingID   string    `json:"cargurusListingId,omitempty"`
	TrueCarListingID    string    `json:"truecarListingId,omitempty"`
	KBBListingID        string    `json:"kbbListingId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Sold reports whether the vehicle carries completed sale data.
func (v *Vehicle) Sold() bool {
	return v.Status == VehicleStatusSold && v.SalePrice != nil
}

// PublicVehicle is the customer-facing projection of a vehicle: no purchase
// economics, no correlation ids, sale price exposed as the asking price.
type PublicVehicle struct {
	ID           string   `json:"id"`
	VIN          string   `json:"vin"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Year         int      `json:"year"`
	Price        *float64 `json:"price"`
	Mileage      int64    `json:"mileage"`
	Color        string   `json:"color"`
	BodyStyle    string   `json:"bodyStyle"`
	Transmission string   `json:"transmission"`
	FuelType     string   `json:"fuelType"`
	Description  string   `json:"description"`
	Features     string   `json:"features"`
	Images       string   `json:"images"`
	Location     string   `json:"location"`
}

func (v *Vehicle) Public() PublicVehicle {
	return PublicVehicle{
		ID:           v.ID,
		VIN:          v.VIN,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		Price:        v.SalePrice,
		Mileage:      v.Mileage,
		Color:        v.Color,
		BodyStyle:    v.BodyStyle,
		Transmission: v.Transmission,
		FuelType:     v.FuelType,
		Description:  v.Description,
		Features:     v.Features,
		Images:       v.Images,
		Location:     v.Location,
	}
}
