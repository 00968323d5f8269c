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
	"carlot/internal/repository"
)

func newAccountingFixture(t *testing.T, handler http.Handler) (*AccountingClient, *repository.MemoryKVStore) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.AccountingConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      server.URL + "/oauth2",
		TokenURL:     server.URL + "/tokens",
		APIURL:       server.URL + "/v3",
	}
	store := repository.NewMemoryKVStore()
	logger := zerolog.Nop()
	return NewAccountingClient(cfg, "http://localhost/callback", store, &logger), store
}

func TestAccountingRefresh_RotatesTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	client, store := newAccountingFixture(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyAccountingRefreshToken, "old-refresh", 0))
	require.NoError(t, store.Set(ctx, KeyAccountingAccessToken, "old-access", 0))

	require.NoError(t, client.Refresh(ctx))

	// The provider invalidated old-refresh: only the rotated pair remains
	access, err := store.Get(ctx, KeyAccountingAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	refresh, err := store.Get(ctx, KeyAccountingRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)
}

func TestAccountingRefresh_NoTokenOnFile(t *testing.T) {
	client, _ := newAccountingFixture(t, http.NewServeMux())

	err := client.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAccountingCreateInvoice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/company/realm-1/invoice", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		lines := payload["Line"].([]interface{})
		require.Len(t, lines, 1)
		assert.Equal(t, 15000.0, lines[0].(map[string]interface{})["Amount"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"Invoice": map[string]string{"Id": "inv-42"},
		})
	})

	client, store := newAccountingFixture(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyAccountingAccessToken, "access-token", 0))
	require.NoError(t, store.Set(ctx, KeyAccountingRealmID, "realm-1", 0))

	price := 15000.0
	v := &models.Vehicle{ID: "veh-1", VIN: "VIN0001", Make: "Honda", Model: "Civic", Year: 2021, SalePrice: &price}

	invoiceID, err := client.CreateInvoice(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, "inv-42", invoiceID)
}

func TestAccountingCreateInvoice_ExpiredToken(t *testing.T) {
	client, store := newAccountingFixture(t, http.NewServeMux())
	ctx := context.Background()

	// Refresh token on file but the access token TTL ran out
	require.NoError(t, store.Set(ctx, KeyAccountingRefreshToken, "refresh", 0))

	price := 100.0
	_, err := client.CreateInvoice(ctx, &models.Vehicle{ID: "veh-1", SalePrice: &price})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAccountingDisconnect(t *testing.T) {
	client, store := newAccountingFixture(t, http.NewServeMux())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyAccountingAccessToken, "a", 0))
	require.NoError(t, store.Set(ctx, KeyAccountingRefreshToken, "r", 0))
	require.NoError(t, store.Set(ctx, KeyAccountingRealmID, "realm", 0))
	assert.True(t, client.Connected(ctx))

	require.NoError(t, client.Disconnect(ctx))
	assert.False(t, client.Connected(ctx))

	access, _ := store.Get(ctx, KeyAccountingAccessToken)
	assert.Equal(t, "", access)
}
