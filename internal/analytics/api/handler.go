package analytics_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"ticket-ledger/internal/analytics"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/utils"

	"github.com/go-chi/chi/v5"
)

// maxBatchEvents bounds one batch stats request.
const maxBatchEvents = 100

type StatsService interface {
	GetEventStats(ctx context.Context, eventID uint64) (*models.EventStats, error)
	GetDailySales(ctx context.Context, eventID uint64) ([]analytics.DailySalesMetrics, error)
	GetBatchEventStats(ctx context.Context, eventIDs []uint64) (*analytics.BatchEventStats, error)
}

// Handler serves market analytics over the read model.
type Handler struct {
	Service StatsService
	Logger  *logger.Logger
}

func NewHandler(service StatsService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes registers the analytics routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events/{eventId}/stats", h.GetEventStats)
	r.Get("/events/{eventId}/daily-sales", h.GetDailySales)
	r.Post("/events/stats/batch", h.GetBatchEventStats)
}

type batchRequest struct {
	EventIDs []uint64 `json:"event_ids"`
}

func parseEventID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "eventId"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid event id %q", chi.URLParam(r, "eventId"))
	}
	return id, nil
}

func (h *Handler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseEventID(r)
	if err != nil {
		utils.WriteJSON(w, r, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", err.Error()))
		return
	}
	stats, err := h.Service.GetEventStats(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Stats for event %d failed: %v", eventID, err))
		utils.WriteJSON(w, r, http.StatusInternalServerError, utils.ErrorResponse("Failed to compute event stats", err.Error()))
		return
	}
	utils.WriteJSON(w, r, http.StatusOK, utils.SuccessResponse("Event stats", stats))
}

func (h *Handler) GetDailySales(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseEventID(r)
	if err != nil {
		utils.WriteJSON(w, r, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", err.Error()))
		return
	}
	daily, err := h.Service.GetDailySales(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Daily sales for event %d failed: %v", eventID, err))
		utils.WriteJSON(w, r, http.StatusInternalServerError, utils.ErrorResponse("Failed to compute daily sales", err.Error()))
		return
	}
	utils.WriteJSON(w, r, http.StatusOK, utils.SuccessResponse("Daily resale totals", daily))
}

func (h *Handler) GetBatchEventStats(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, r, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if len(req.EventIDs) == 0 || len(req.EventIDs) > maxBatchEvents {
		utils.WriteJSON(w, r, http.StatusBadRequest, utils.ErrorResponse("Invalid request body",
			fmt.Sprintf("event_ids must hold 1 to %d ids", maxBatchEvents)))
		return
	}
	batch, err := h.Service.GetBatchEventStats(r.Context(), req.EventIDs)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Batch stats failed: %v", err))
		utils.WriteJSON(w, r, http.StatusInternalServerError, utils.ErrorResponse("Failed to compute batch stats", err.Error()))
		return
	}
	utils.WriteJSON(w, r, http.StatusOK, utils.SuccessResponse("Batch event stats", batch))
}
