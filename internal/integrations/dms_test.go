package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carlot/internal/config"
	"carlot/internal/models"
)

func TestDMSFetchInventory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dms-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"vehicles": []map[string]interface{}{
				{
					"id": "dms-1", "vin": "VIN0001", "make": "Honda", "model": "Civic",
					"year": 2021, "price": 10000, "mileage": 42000, "lot": "front",
				},
				{
					"id": "dms-2", "vin": "VIN0002", "make": "Ford", "model": "F-150",
					"year": 2019, "price": 22000, "source": "dealertrack",
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	logger := zerolog.Nop()
	client := NewDMSClient(config.DMSConfig{APIURL: server.URL, APIKey: "dms-key"}, &logger)

	vehicles, err := client.FetchInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	assert.Equal(t, "VIN0001", vehicles[0].VIN)
	assert.Equal(t, "dms-1", vehicles[0].ExternalDMSID)
	assert.Equal(t, "dms", vehicles[0].ExternalDMSSource)
	assert.Equal(t, models.VehicleStatusAvailable, vehicles[0].Status)
	assert.NotEmpty(t, vehicles[0].ID)

	assert.Equal(t, "dealertrack", vehicles[1].ExternalDMSSource)
}

func TestDMSNotConfigured(t *testing.T) {
	logger := zerolog.Nop()
	client := NewDMSClient(config.DMSConfig{}, &logger)

	_, err := client.FetchInventory(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDMSMarkSold(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	logger := zerolog.Nop()
	client := NewDMSClient(config.DMSConfig{APIURL: server.URL, APIKey: "dms-key"}, &logger)

	err := client.MarkSold(context.Background(), "dms-1", 15000, "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, "/inventory/dms-1/sold", gotPath)
	assert.Equal(t, 15000.0, gotPayload["sale_price"])
	assert.Equal(t, "2026-08-25", gotPayload["sale_date"])
}

func TestDMSErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	logger := zerolog.Nop()
	client := NewDMSClient(config.DMSConfig{APIURL: server.URL, APIKey: "dms-key"}, &logger)

	_, err := client.FetchInventory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
