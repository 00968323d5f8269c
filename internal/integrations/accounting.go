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
	"golang.org/x/oauth2"

	"carlot/internal/config"
	"carlot/internal/models"
	"carlot/internal/repository"
)

// AccountingClient integrates with the accounting provider over OAuth2.
// Tokens live in the credential register, never in config or the database.
type AccountingClient struct {
	cfg    config.AccountingConfig
	oauth  *oauth2.Config
	store  repository.KeyValueStore
	client *http.Client
	logger *zerolog.Logger
}

func NewAccountingClient(cfg config.AccountingConfig, redirectURL string, store repository.KeyValueStore, logger *zerolog.Logger) *AccountingClient {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"com.intuit.quickbooks.accounting"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return &AccountingClient{
		cfg:    cfg,
		oauth:  oauthCfg,
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (c *AccountingClient) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthCodeURL builds the provider consent URL for the given state nonce.
func (c *AccountingClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization code for tokens and persists them.
func (c *AccountingClient) Exchange(ctx context.Context, code, realmID string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth code exchange failed: %w", err)
	}

	if err := c.persistToken(ctx, token); err != nil {
		return err
	}
	if realmID != "" {
		if err := c.store.Set(ctx, KeyAccountingRealmID, realmID, 0); err != nil {
			return err
		}
	}
	if err := c.store.Set(ctx, KeyAccountingConnectedAt, time.Now().Format(time.RFC3339), 0); err != nil {
		return err
	}

	c.logger.Info().Str("realm_id", realmID).Msg("Accounting provider connected")
	return nil
}

// Refresh rotates the token pair. The provider invalidates the old refresh
// token on use, so the new one must replace it before anything else runs.
func (c *AccountingClient) Refresh(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	refreshToken, err := c.store.Get(ctx, KeyAccountingRefreshToken)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return ErrNotAuthenticated
	}

	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	return c.persistToken(ctx, token)
}

func (c *AccountingClient) persistToken(ctx context.Context, token *oauth2.Token) error {
	ttl := time.Duration(0)
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry)
	}
	if err := c.store.Set(ctx, KeyAccountingAccessToken, token.AccessToken, ttl); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		if err := c.store.Set(ctx, KeyAccountingRefreshToken, token.RefreshToken, 0); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect drops all stored accounting credentials.
func (c *AccountingClient) Disconnect(ctx context.Context) error {
	for _, key := range []string{
		KeyAccountingAccessToken,
		KeyAccountingRefreshToken,
		KeyAccountingRealmID,
		KeyAccountingConnectedAt,
	} {
		if err := c.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Connected reports whether a refresh token is on file.
func (c *AccountingClient) Connected(ctx context.Context) bool {
	token, err := c.store.Get(ctx, KeyAccountingRefreshToken)
	return err == nil && token != ""
}

// AccessToken returns the current access token without refreshing.
// Empty access token with a refresh token on file means it expired.
func (c *AccountingClient) AccessToken(ctx context.Context) (string, error) {
	token, err := c.store.Get(ctx, KeyAccountingAccessToken)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (c *AccountingClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	realmID, err := c.store.Get(ctx, KeyAccountingRealmID)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/company/%s%s", c.cfg.APIURL, realmID, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("accounting request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: access token rejected", ErrNotAuthenticated)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("accounting api returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

// CreateInvoice records a vehicle sale and returns the provider invoice id.
func (c *AccountingClient) CreateInvoice(ctx context.Context, v *models.Vehicle) (string, error) {
	if v.SalePrice == nil {
		return "", fmt.Errorf("vehicle %s has no sale price", v.ID)
	}

	payload := map[string]interface{}{
		"Line": []map[string]interface{}{
			{
				"Amount":      *v.SalePrice,
				"DetailType":  "SalesItemLineDetail",
				"Description": fmt.Sprintf("%d %s %s (VIN %s)", v.Year, v.Make, v.Model, v.VIN),
				"SalesItemLineDetail": map[string]interface{}{
					"Qty": 1,
				},
			},
		},
	}

	data, err := c.do(ctx, http.MethodPost, "/invoice", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Invoice struct {
			ID string `json:"Id"`
		} `json:"Invoice"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode invoice response: %w", err)
	}
	if resp.Invoice.ID == "" {
		return "", fmt.Errorf("invoice response carried no id")
	}

	c.logger.Info().Str("vehicle_id", v.ID).Str("invoice_id", resp.Invoice.ID).Msg("Invoice created")
	return resp.Invoice.ID, nil
}

// CreateExpense records a service cost against the books.
func (c *AccountingClient) CreateExpense(ctx context.Context, s *models.Service, vehicleLabel string) (string, error) {
	payload := map[string]interface{}{
		"PaymentType": "Cash",
		"TxnDate":     s.ServiceDate,
		"Line": []map[string]interface{}{
			{
				"Amount":      s.Cost,
				"DetailType":  "AccountBasedExpenseLineDetail",
				"Description": fmt.Sprintf("%s: %s (%s)", s.ServiceType, s.Description, vehicleLabel),
			},
		},
	}

	data, err := c.do(ctx, http.MethodPost, "/purchase", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Purchase struct {
			ID string `json:"Id"`
		} `json:"Purchase"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode expense response: %w", err)
	}

	c.logger.Info().Str("service_id", s.ID).Str("expense_id", resp.Purchase.ID).Msg("Expense recorded")
	return resp.Purchase.ID, nil
}
