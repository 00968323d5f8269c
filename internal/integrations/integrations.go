// Package integrations holds the outbound adapters: the DMS inventory feed,
// the accounting provider (OAuth2 + invoices/expenses) and the marketplace
// listing sites. Adapters treat remote payloads as opaque JSON and never
// leak provider types outside the package.
package integrations

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means the adapter has no credentials in config.
	ErrNotConfigured = errors.New("integration is not configured")

	// ErrNotAuthenticated means the OAuth connection was never made or the
	// stored tokens are gone.
	ErrNotAuthenticated = errors.New("integration is not authenticated")
)

// Ключи в регистре учетных данных
const (
	KeyAccountingAccessToken  = "accounting_access_token"
	KeyAccountingRefreshToken = "accounting_refresh_token"
	KeyAccountingRealmID      = "accounting_realm_id"
	KeyAccountingConnectedAt  = "accounting_connected_at"
	KeyAccountingLastSync     = "accounting_last_sync"
	KeyDMSLastSync            = "dms_last_sync"
)

// OAuthStateKey builds the register key for an anti-CSRF nonce.
func OAuthStateKey(nonce string) string {
	return fmt.Sprintf("oauth_state:%s", nonce)
}
