package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carlot/internal/config"
	"carlot/internal/models"
)

// DMSClient talks to the dealer management system inventory API.
type DMSClient struct {
	cfg    config.DMSConfig
	client *http.Client
	logger *zerolog.Logger
}

func NewDMSClient(cfg config.DMSConfig, logger *zerolog.Logger) *DMSClient {
	return &DMSClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (c *DMSClient) Configured() bool {
	return c.cfg.APIURL != "" && c.cfg.APIKey != ""
}

// Формат записи в фиде DMS
type dmsVehicle struct {
	ID            string  `json:"id"`
	VIN           string  `json:"vin"`
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Year          int     `json:"year"`
	Price         float64 `json:"price"`
	AcquiredDate  string  `json:"acquired_date"`
	Mileage       int64   `json:"mileage"`
	Color         string  `json:"color"`
	BodyStyle     string  `json:"body_style"`
	Transmission  string  `json:"transmission"`
	FuelType      string  `json:"fuel_type"`
	Description   string  `json:"description"`
	Features      string  `json:"features"`
	ImageURLs     string  `json:"image_urls"`
	Lot           string  `json:"lot"`
	Source        string  `json:"source"`
}

type dmsInventoryResponse struct {
	Vehicles []dmsVehicle `json:"vehicles"`
}

func (c *DMSClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dms request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("dms api returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

// FetchInventory pulls the full DMS feed and converts it into vehicles
// keyed for upsert-by-VIN. New records get fresh local ids.
func (c *DMSClient) FetchInventory(ctx context.Context) ([]models.Vehicle, error) {
	data, err := c.do(ctx, http.MethodGet, "/inventory", nil)
	if err != nil {
		return nil, err
	}

	var feed dmsInventoryResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to decode dms feed: %w", err)
	}

	vehicles := make([]models.Vehicle, 0, len(feed.Vehicles))
	for _, dv := range feed.Vehicles {
		source := dv.Source
		if source == "" {
			source = "dms"
		}
		vehicles = append(vehicles, models.Vehicle{
			ID:                uuid.NewString(),
			VIN:               dv.VIN,
			Make:              dv.Make,
			Model:             dv.Model,
			Year:              dv.Year,
			PurchasePrice:     dv.Price,
			PurchaseDate:      dv.AcquiredDate,
			Status:            models.VehicleStatusAvailable,
			Location:          dv.Lot,
			Mileage:           dv.Mileage,
			Color:             dv.Color,
			BodyStyle:         dv.BodyStyle,
			Transmission:      dv.Transmission,
			FuelType:          dv.FuelType,
			Description:       dv.Description,
			Features:          dv.Features,
			Images:            dv.ImageURLs,
			ExternalDMSID:     dv.ID,
			ExternalDMSSource: source,
		})
	}

	c.logger.Info().Int("count", len(vehicles)).Msg("Fetched DMS inventory")
	return vehicles, nil
}

// UpdateInventory pushes current vehicle data to the DMS record.
func (c *DMSClient) UpdateInventory(ctx context.Context, externalID string, v *models.Vehicle) error {
	payload := map[string]interface{}{
		"vin":         v.VIN,
		"make":        v.Make,
		"model":       v.Model,
		"year":        v.Year,
		"mileage":     v.Mileage,
		"color":       v.Color,
		"description": v.Description,
		"status":      v.Status,
	}
	_, err := c.do(ctx, http.MethodPut, "/inventory/"+externalID, payload)
	return err
}

// MarkSold notifies the DMS that the vehicle left the lot.
func (c *DMSClient) MarkSold(ctx context.Context, externalID string, salePrice float64, saleDate string) error {
	payload := map[string]interface{}{
		"sale_price": salePrice,
		"sale_date":  saleDate,
	}
	_, err := c.do(ctx, http.MethodPost, "/inventory/"+externalID+"/sold", payload)
	return err
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
