package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"carlot/internal/analytics"
	"carlot/internal/database"
	"carlot/internal/export"
	"carlot/internal/models"
)

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.db.GetTasks(r.Context(), 0)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list tasks")
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})

	case http.MethodPost:
		var task models.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if task.ID == "" {
			task.ID = uuid.NewString()
		}

		// Все мутации идут через цикл координатора
		if err := s.coordinator.Apply(r.Context(), models.MsgTaskUpdate, task); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, task)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		vehicles, err := s.db.GetVehicles(r.Context(), 0)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list vehicles")
			writeError(w, http.StatusInternalServerError, "failed to list vehicles")
			return
		}
		if vehicles == nil {
			vehicles = []models.Vehicle{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})

	case http.MethodPost:
		var vehicle models.Vehicle
		if err := json.NewDecoder(r.Body).Decode(&vehicle); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if vehicle.ID == "" {
			vehicle.ID = uuid.NewString()
		}

		if err := s.coordinator.Apply(r.Context(), models.MsgInventoryUpdate, vehicle); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, vehicle)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleVehicleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/vehicles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}

	vehicle, err := s.db.GetVehicle(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("Failed to get vehicle")
		writeError(w, http.StatusInternalServerError, "failed to get vehicle")
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		vehicleID := strings.TrimSpace(r.URL.Query().Get("vehicleId"))
		if vehicleID == "" {
			writeError(w, http.StatusBadRequest, "vehicleId is required")
			return
		}
		services, err := s.db.GetServices(r.Context(), vehicleID)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list services")
			writeError(w, http.StatusInternalServerError, "failed to list services")
			return
		}
		if services == nil {
			services = []models.Service{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": services})

	case http.MethodPost:
		var service models.Service
		if err := json.NewDecoder(r.Body).Decode(&service); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if service.ID == "" {
			service.ID = uuid.NewString()
		}

		if err := s.coordinator.Apply(r.Context(), models.MsgServiceAdd, service); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, service)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))
		entityID := strings.TrimSpace(r.URL.Query().Get("entityId"))
		if entityType == "" || entityID == "" {
			writeError(w, http.StatusBadRequest, "entityType and entityId are required")
			return
		}
		comments, err := s.db.GetComments(r.Context(), entityType, entityID)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list comments")
			writeError(w, http.StatusInternalServerError, "failed to list comments")
			return
		}
		if comments == nil {
			comments = []models.Comment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})

	case http.MethodPost:
		var comment models.Comment
		if err := json.NewDecoder(r.Body).Decode(&comment); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if comment.ID == "" {
			comment.ID = uuid.NewString()
		}

		if err := s.coordinator.Apply(r.Context(), models.MsgCommentAdd, comment); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, comment)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	vehicles, err := s.db.GetVehicles(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load vehicles")
		return
	}
	services, err := s.db.GetAllServices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load services")
		return
	}

	writeJSON(w, http.StatusOK, analytics.Calculate(vehicles, services))
}

// Публичная витрина: без ключа, с кэшем и CORS для сайта дилера

func publicHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", models.PublicCacheMaxAge))
}

func (s *Server) handlePublicInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	vehicles, err := s.db.GetPublicVehicles(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load public inventory")
		writeError(w, http.StatusInternalServerError, "failed to load inventory")
		return
	}

	public := make([]models.PublicVehicle, 0, len(vehicles))
	for i := range vehicles {
		public = append(public, vehicles[i].Public())
	}

	publicHeaders(w)
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": public})
}

func (s *Server) handlePublicVehicle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/public/vehicle/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}

	vehicle, err := s.db.GetPublicVehicle(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get vehicle")
		return
	}

	publicHeaders(w)
	writeJSON(w, http.StatusOK, vehicle.Public())
}

// dmsWebhookPayload приходит от DMS при событиях на их стороне
type dmsWebhookPayload struct {
	Event   string `json:"event"`
	Vehicle struct {
		VIN         string `json:"vin"`
		Make        string `json:"make"`
		Model       string `json:"model"`
		Year        int    `json:"year"`
		StockNumber string `json:"stock_number"`
	} `json:"vehicle"`
	SalePrice float64 `json:"salePrice"`
	SoldDate  string  `json:"soldDate"`
}

func (s *Server) handleDMSWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload dmsWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch payload.Event {
	case "vehicle.added", "vehicle.updated":
		if payload.Vehicle.VIN == "" {
			writeError(w, http.StatusBadRequest, "vehicle.vin is required")
			return
		}
		vehicle := models.Vehicle{
			ID:                uuid.NewString(),
			VIN:               payload.Vehicle.VIN,
			Make:              payload.Vehicle.Make,
			Model:             payload.Vehicle.Model,
			Year:              payload.Vehicle.Year,
			Status:            models.VehicleStatusAvailable,
			ExternalDMSID:     payload.Vehicle.StockNumber,
			ExternalDMSSource: "dms",
		}
		if err := s.db.UpsertVehicleFromDMS(r.Context(), &vehicle); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record vehicle")
			return
		}
		if err := s.coordinator.Notify(r.Context(), models.MsgInventoryUpdate, "dms"); err != nil {
			s.logger.Warn().Err(err).Msg("Webhook broadcast failed")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})

	case "vehicle.sold":
		if payload.Vehicle.VIN == "" {
			writeError(w, http.StatusBadRequest, "vehicle.vin is required")
			return
		}
		err := s.db.MarkVehicleSoldByVIN(r.Context(), payload.Vehicle.VIN, payload.SalePrice, payload.SoldDate)
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown vin")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record sale")
			return
		}
		if err := s.coordinator.Notify(r.Context(), models.MsgVehicleSold, "dms"); err != nil {
			s.logger.Warn().Err(err).Msg("Webhook broadcast failed")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})

	default:
		// Неизвестные события подтверждаем, чтобы DMS не ретраила их вечно
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handleExportInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	vehicles, err := s.db.GetVehicles(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load vehicles")
		return
	}
	services, err := s.db.GetAllServices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load services")
		return
	}

	file, err := export.BuildInventoryReport(vehicles, services)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build inventory report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="inventory.xlsx"`)
	if _, err := file.WriteTo(w); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stream inventory report")
	}
}
