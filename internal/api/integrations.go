package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"carlot/internal/database"
	"carlot/internal/integrations"
	"carlot/internal/models"
)

// handleDMSSync pulls the full DMS feed and upserts it by VIN. Triggered
// manually from the dashboard or by an external scheduler.
func (s *Server) handleDMSSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	vehicles, err := s.dms.FetchInventory(r.Context())
	if errors.Is(err, integrations.ErrNotConfigured) {
		writeError(w, http.StatusConflict, "dms integration is not configured")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("DMS inventory fetch failed")
		writeError(w, http.StatusBadGateway, "dms fetch failed")
		return
	}

	imported := 0
	for i := range vehicles {
		if vehicles[i].VIN == "" {
			continue
		}
		if err := s.db.UpsertVehicleFromDMS(r.Context(), &vehicles[i]); err != nil {
			s.logger.Error().Err(err).Str("vin", vehicles[i].VIN).Msg("DMS vehicle upsert failed")
			continue
		}
		imported++
	}

	if err := s.kv.Set(r.Context(), integrations.KeyDMSLastSync, time.Now().Format(time.RFC3339), 0); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record dms_last_sync")
	}

	writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "total": len(vehicles)})
}

func (s *Server) handleAccountingAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.accounting.Configured() {
		writeError(w, http.StatusConflict, "accounting integration is not configured")
		return
	}

	// Anti-CSRF nonce: the callback must echo it back within the TTL
	state := uuid.NewString()
	ttl := time.Duration(models.OAuthStateTTL) * time.Second
	if err := s.kv.Set(r.Context(), integrations.OAuthStateKey(state), "1", ttl); err != nil {
		s.logger.Error().Err(err).Msg("Failed to store oauth state")
		writeError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	http.Redirect(w, r, s.accounting.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleAccountingCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	realmID := query.Get("realmId")

	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	stored, err := s.kv.Get(r.Context(), integrations.OAuthStateKey(state))
	if err != nil || stored == "" {
		writeError(w, http.StatusForbidden, "unknown or expired state")
		return
	}
	// Одноразовый nonce
	if err := s.kv.Delete(r.Context(), integrations.OAuthStateKey(state)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete oauth state")
	}

	if err := s.accounting.Exchange(r.Context(), code, realmID); err != nil {
		s.logger.Error().Err(err).Msg("OAuth code exchange failed")
		writeError(w, http.StatusBadGateway, "authorization failed")
		return
	}

	// Браузерный редирект от провайдера: отвечаем страницей, а не JSON
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<html><body><h2>Accounting connected</h2><p>You can close this window.</p></body></html>`)
}

// handleAccountingSync sweeps recent sales without an invoice and creates
// one per vehicle. Runs idempotently: an invoiced sale never shows up in
// the sweep again.
func (s *Server) handleAccountingSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.accounting.Connected(r.Context()) {
		writeError(w, http.StatusConflict, "accounting is not connected")
		return
	}

	sales, err := s.db.GetRecentUninvoicedSales(r.Context(), 7*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load recent sales")
		return
	}

	invoiced := 0
	var failures []string
	for i := range sales {
		invoiceID, err := s.accounting.CreateInvoice(r.Context(), &sales[i])
		if err != nil {
			s.logger.Error().Err(err).Str("vehicle_id", sales[i].ID).Msg("Invoice creation failed")
			failures = append(failures, sales[i].ID)
			continue
		}
		if err := s.db.SetAccountingInvoiceID(r.Context(), sales[i].ID, invoiceID); err != nil {
			s.logger.Error().Err(err).Str("vehicle_id", sales[i].ID).Msg("Failed to record invoice id")
			failures = append(failures, sales[i].ID)
			continue
		}
		invoiced++
	}

	if err := s.kv.Set(r.Context(), integrations.KeyAccountingLastSync, time.Now().Format(time.RFC3339), 0); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record accounting_last_sync")
	}

	writeJSON(w, http.StatusOK, map[string]any{"invoiced": invoiced, "failed": failures})
}

func (s *Server) handleAccountingDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.accounting.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleListingsPublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.publisher.Configured() {
		writeError(w, http.StatusConflict, "no listing sites are configured")
		return
	}

	var body struct {
		VehicleID string `json:"vehicleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicleId is required")
		return
	}

	vehicle, err := s.db.GetVehicle(r.Context(), body.VehicleID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get vehicle")
		return
	}
	if !vehicle.PublishToThirdParty {
		writeError(w, http.StatusConflict, "vehicle is not flagged for third-party publishing")
		return
	}

	results := s.publisher.PublishVehicle(r.Context(), vehicle)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleIntegrationsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	dmsLastSync, _ := s.kv.Get(ctx, integrations.KeyDMSLastSync)
	acctLastSync, _ := s.kv.Get(ctx, integrations.KeyAccountingLastSync)
	connectedAt, _ := s.kv.Get(ctx, integrations.KeyAccountingConnectedAt)

	published, err := s.db.CountPublishedListings(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count published listings")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dms": map[string]any{
			"configured": s.dms.Configured(),
			"lastSync":   dmsLastSync,
		},
		"accounting": map[string]any{
			"configured":  s.accounting.Configured(),
			"connected":   s.accounting.Connected(ctx),
			"connectedAt": connectedAt,
			"lastSync":    acctLastSync,
		},
		"listings": map[string]any{
			"configured":     s.publisher.Configured(),
			"publishedCount": published,
		},
	})
}
