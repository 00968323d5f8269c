package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"carlot/internal/models"
)

// VehicleSource is where the consumer reads vehicle state from. The worker
// process goes through the coordinator's HTTP API rather than the database
// so it always sees the committed view.
type VehicleSource interface {
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
}

type HTTPVehicleSource struct {
	baseURL string
	apiKey  string
	header  string
	client  *http.Client
}

func NewHTTPVehicleSource(baseURL, header, apiKey string) *HTTPVehicleSource {
	return &HTTPVehicleSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		header:  header,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPVehicleSource) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	url := fmt.Sprintf("%s/api/vehicles/%s", s.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set(s.header, s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicle %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("vehicle %s not found", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator returned %d for vehicle %s", resp.StatusCode, id)
	}

	var v models.Vehicle
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return &v, nil
}
