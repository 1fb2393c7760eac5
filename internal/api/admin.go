package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/hostline/internal/reconcile"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Reconciler starts background analytics reconciliations
type Reconciler interface {
	Reconcile(ctx context.Context, userID, callID string) *reconcile.Result
}

// AdminHandler serves the internal seeding and maintenance routes
type AdminHandler struct {
	store      storage.Store
	reconciler Reconciler
	simURL     string
	logger     zerolog.Logger
	client     *http.Client

	// Parent of manual reconciliations; they outlive the request
	baseCtx context.Context
}

// NewAdminHandler creates a new AdminHandler. simURL may be empty, in which
// case the simulator proxy answers 404.
func NewAdminHandler(baseCtx context.Context, store storage.Store, reconciler Reconciler, simURL string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:      store,
		reconciler: reconciler,
		simURL:     simURL,
		logger:     logger.With().Str("component", "admin_handler").Logger(),
		client:     &http.Client{Timeout: 10 * time.Second},
		baseCtx:    baseCtx,
	}
}

// PutUserRequest seeds a user's profile
type PutUserRequest struct {
	RestaurantName string `json:"restaurantName"`
	AgentID        string `json:"agentId"`
}

// PutUser creates or replaces a user's profile fields. Stored analytics are kept.
// PUT /internal/users/{userId}
func (h *AdminHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req PutUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record := types.UserRecord{UserID: userID, RestaurantName: req.RestaurantName}
	if req.AgentID != "" {
		record.AgentData = &types.AgentProfile{AgentID: req.AgentID}
	}

	if err := h.store.PutUser(r.Context(), record); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to save user")
		writeError(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	h.logger.Info().Str("user_id", userID).Bool("has_agent", record.HasAgent()).Msg("user seeded")
	writeJSON(w, http.StatusOK, AssistantResponse{
		RestaurantName: record.RestaurantName,
		HasAgent:       record.HasAgent(),
	})
}

// ReconcileResponse reports a manual reconciliation
type ReconcileResponse struct {
	UserID string `json:"userId"`
	CallID string `json:"callId"`
	Status string `json:"status"` // "accepted", "saved" or "failed"
	Error  string `json:"error,omitempty"`
}

// ReconcileCall starts a reconciliation for one call. With ?wait=true the
// response carries the outcome.
// POST /internal/users/{userId}/calls/{callId}/reconcile
func (h *AdminHandler) ReconcileCall(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	callID := chi.URLParam(r, "callId")

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	res := h.reconciler.Reconcile(h.baseCtx, userID, callID)

	resp := ReconcileResponse{UserID: userID, CallID: callID, Status: "accepted"}
	if !wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := res.Wait(r.Context()); err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "saved"
	writeJSON(w, http.StatusOK, resp)
}

// WipeStore deletes every user record
// DELETE /internal/storage
func (h *AdminHandler) WipeStore(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate store")
		writeError(w, http.StatusInternalServerError, "failed to truncate: "+err.Error())
		return
	}

	h.logger.Info().Msg("store truncated")
	writeJSON(w, http.StatusOK, map[string]string{"message": "store truncated"})
}

// SimStats proxies GET /stats to the provider simulator
// GET /internal/sim/stats
func (h *AdminHandler) SimStats(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodGet, "/stats")
}

// proxyToSim forwards a request to the simulator and copies the response back
func (h *AdminHandler) proxyToSim(w http.ResponseWriter, r *http.Request, method, path string) {
	if h.simURL == "" {
		writeError(w, http.StatusNotFound, "simulator not configured")
		return
	}
	url := h.simURL + path

	req, err := http.NewRequestWithContext(r.Context(), method, url, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("failed to create proxy request")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Str("url", url).Msg("failed to reach simulator")
		writeError(w, http.StatusBadGateway, "simulator unavailable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
