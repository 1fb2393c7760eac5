package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/hostline/internal/export"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// UserHandler provides REST endpoints for a restaurant's assistant and call
// analytics
type UserHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(store storage.Store, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		store:  store,
		logger: logger.With().Str("component", "user_handler").Logger(),
	}
}

// AssistantResponse is the assistant summary shown on a page
type AssistantResponse struct {
	RestaurantName string `json:"restaurantName"`
	HasAgent       bool   `json:"hasAgent"`
}

// GetAssistant returns the user's restaurant name and whether an assistant
// is configured
// GET /api/users/{userId}/assistant
func (h *UserHandler) GetAssistant(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to get user")
		writeError(w, http.StatusInternalServerError, "failed to retrieve user")
		return
	}

	writeJSON(w, http.StatusOK, AssistantResponse{
		RestaurantName: user.RestaurantName,
		HasAgent:       user.HasAgent(),
	})
}

// GetAnalytics returns the analytics mapping keyed by call ID
// GET /api/users/{userId}/analytics
func (h *UserHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	analytics, ok := h.loadAnalytics(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// ExportAnalytics streams the analytics as an xlsx workbook
// GET /api/users/{userId}/analytics/export
func (h *UserHandler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	analytics, ok := h.loadAnalytics(w, r, userID)
	if !ok {
		return
	}

	// Render fully before writing headers so a failure can still be a 500
	var buf bytes.Buffer
	if err := export.WriteAnalytics(&buf, userID, analytics); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to export analytics")
		writeError(w, http.StatusInternalServerError, "failed to export analytics")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analytics-%s.xlsx"`, userID))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func (h *UserHandler) loadAnalytics(w http.ResponseWriter, r *http.Request, userID string) (map[string]types.AnalyticsRecord, bool) {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return nil, false
	}

	analytics, err := h.store.ListAnalytics(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to get analytics")
		writeError(w, http.StatusInternalServerError, "failed to retrieve analytics")
		return nil, false
	}

	if analytics == nil {
		analytics = map[string]types.AnalyticsRecord{}
	}
	return analytics, true
}
