package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"carlot/internal/config"
	"carlot/internal/models"
)

// ListingSite is one marketplace the dealership publishes vehicles to.
type ListingSite interface {
	Name() string
	Publish(ctx context.Context, v *models.Vehicle) (listingID string, err error)
}

// PublishResult is the per-site outcome of a publish fan-out.
type PublishResult struct {
	Site      string `json:"site"`
	ListingID string `json:"listingId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type listingStore interface {
	SetListingID(ctx context.Context, vehicleID, site, listingID string) error
}

// Publisher fans a vehicle out to every configured marketplace. A failure on
// one site never blocks the others.
type Publisher struct {
	sites  []ListingSite
	store  listingStore
	logger *zerolog.Logger
}

func NewPublisher(cfg config.ListingsConfig, store listingStore, logger *zerolog.Logger) *Publisher {
	var sites []ListingSite
	if cfg.CarGurusAPIKey != "" {
		sites = append(sites, &carGurusClient{cfg: cfg, client: newListingHTTPClient()})
	}
	if cfg.TrueCarDealerID != "" {
		sites = append(sites, &trueCarClient{cfg: cfg, client: newListingHTTPClient()})
	}
	if cfg.KBBDealerID != "" {
		sites = append(sites, &kbbClient{cfg: cfg, client: newListingHTTPClient()})
	}
	return &Publisher{sites: sites, store: store, logger: logger}
}

func (p *Publisher) Configured() bool {
	return len(p.sites) > 0
}

func (p *Publisher) PublishVehicle(ctx context.Context, v *models.Vehicle) []PublishResult {
	results := make([]PublishResult, 0, len(p.sites))
	for _, site := range p.sites {
		result := PublishResult{Site: site.Name()}

		listingID, err := site.Publish(ctx, v)
		if err != nil {
			p.logger.Error().Err(err).Str("site", site.Name()).Str("vehicle_id", v.ID).Msg("Listing publish failed")
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		result.ListingID = listingID
		if err := p.store.SetListingID(ctx, v.ID, site.Name(), listingID); err != nil {
			p.logger.Error().Err(err).Str("site", site.Name()).Msg("Failed to record listing id")
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func newListingHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Общий payload объявления для площадок
type listingPayload struct {
	VIN         string   `json:"vin"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Year        int      `json:"year"`
	Price       *float64 `json:"price"`
	Mileage     int64    `json:"mileage"`
	Color       string   `json:"color"`
	Description string   `json:"description"`
	Images      string   `json:"images"`
}

func buildListingPayload(v *models.Vehicle) listingPayload {
	return listingPayload{
		VIN:         v.VIN,
		Make:        v.Make,
		Model:       v.Model,
		Year:        v.Year,
		Price:       v.SalePrice,
		Mileage:     v.Mileage,
		Color:       v.Color,
		Description: v.Description,
		Images:      v.Images,
	}
}

func postListing(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("listing api returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result struct {
		ListingID string `json:"listing_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode listing response: %w", err)
	}
	if result.ListingID != "" {
		return result.ListingID, nil
	}
	return result.ID, nil
}

type carGurusClient struct {
	cfg    config.ListingsConfig
	client *http.Client
}

func (c *carGurusClient) Name() string { return "cargurus" }

func (c *carGurusClient) Publish(ctx context.Context, v *models.Vehicle) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.CarGurusAPIKey}
	return postListing(ctx, c.client, c.cfg.CarGurusAPIURL+"/listings", headers, buildListingPayload(v))
}

type trueCarClient struct {
	cfg    config.ListingsConfig
	client *http.Client
}

func (c *trueCarClient) Name() string { return "truecar" }

func (c *trueCarClient) Publish(ctx context.Context, v *models.Vehicle) (string, error) {
	payload := struct {
		listingPayload
		DealerID string `json:"dealer_id"`
	}{buildListingPayload(v), c.cfg.TrueCarDealerID}
	return postListing(ctx, c.client, c.cfg.TrueCarAPIURL+"/inventory", nil, payload)
}

type kbbClient struct {
	cfg    config.ListingsConfig
	client *http.Client
}

func (c *kbbClient) Name() string { return "kbb" }

func (c *kbbClient) Publish(ctx context.Context, v *models.Vehicle) (string, error) {
	payload := struct {
		listingPayload
		DealerID string `json:"dealer_id"`
	}{buildListingPayload(v), c.cfg.KBBDealerID}
	return postListing(ctx, c.client, c.cfg.KBBAPIURL+"/listings", nil, payload)
}
