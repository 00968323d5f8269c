// Package api exposes the coordinator over HTTP: the staff REST surface,
// the public inventory feed, integration endpoints and the websocket
// entry point.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"carlot/internal/config"
	"carlot/internal/coordinator"
	"carlot/internal/database"
	"carlot/internal/integrations"
	"carlot/internal/metrics"
	"carlot/internal/repository"
)

type Server struct {
	cfg         *config.Config
	db          *database.DB
	coordinator *coordinator.Coordinator
	kv          repository.KeyValueStore
	dms         *integrations.DMSClient
	accounting  *integrations.AccountingClient
	publisher   *integrations.Publisher
	logger      *zerolog.Logger
	server      *http.Server
	auth        *HTTPAuth
}

func NewServer(
	cfg *config.Config,
	db *database.DB,
	coord *coordinator.Coordinator,
	kv repository.KeyValueStore,
	dms *integrations.DMSClient,
	accounting *integrations.AccountingClient,
	publisher *integrations.Publisher,
	logger *zerolog.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		coordinator: coord,
		kv:          kv,
		dms:         dms,
		accounting:  accounting,
		publisher:   publisher,
		logger:      logger,
	}
	s.auth = NewHTTPAuth(cfg.Auth)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/vehicles", s.handleVehicles)
	mux.HandleFunc("/api/vehicles/", s.handleVehicleByID)
	mux.HandleFunc("/api/services", s.handleServices)
	mux.HandleFunc("/api/comments", s.handleComments)
	mux.HandleFunc("/api/analytics", s.handleAnalytics)
	mux.HandleFunc("/api/export/inventory", s.handleExportInventory)

	mux.HandleFunc("/api/public/inventory", s.handlePublicInventory)
	mux.HandleFunc("/api/public/vehicle/", s.handlePublicVehicle)

	mux.HandleFunc("/api/integrations/dms/sync", s.handleDMSSync)
	mux.HandleFunc("/api/integrations/accounting/authorize", s.handleAccountingAuthorize)
	mux.HandleFunc("/api/integrations/accounting/callback", s.handleAccountingCallback)
	mux.HandleFunc("/api/integrations/accounting/sync", s.handleAccountingSync)
	mux.HandleFunc("/api/integrations/accounting/disconnect", s.handleAccountingDisconnect)
	mux.HandleFunc("/api/integrations/listings/publish", s.handleListingsPublish)
	mux.HandleFunc("/api/integrations/status", s.handleIntegrationsStatus)

	mux.HandleFunc("/api/webhooks/dms", s.handleDMSWebhook)

	mux.HandleFunc("/ws", coord.ServeWS)
	mux.HandleFunc("/health", s.handleHealth)

	handler := s.loggingMiddleware(s.auth.Wrap(mux))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the full middleware chain, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
