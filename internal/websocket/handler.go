package websocket

import (
	"errors"
	"net/http"
	"slices"

	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/session"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TransportFactory builds a fresh transport for each page
type TransportFactory interface {
	New() transport.Transport
}

// PageDeps are the collaborators every page controller is wired with
type PageDeps struct {
	Store      storage.Store
	Calls      session.CallCreator
	Transports TransportFactory
	Reconciler session.Reconciler
	Metrics    *metrics.Metrics
}

// Handler upgrades page requests and wires each page to its own call
// controller
type Handler struct {
	hub      *Hub
	config   *config.Config
	deps     PageDeps
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, deps PageDeps, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		config: cfg,
		deps:   deps,
		logger: logger.With().Str("component", "page_handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, "*") || slices.Contains(h.config.AllowedOrigins, origin)
}

// ServeHTTP handles GET /ws/pages/{userId}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	// The profile is read once per page view
	user, err := h.deps.Store.GetUser(r.Context(), userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load user record")
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, userID, h.config, h.logger)

	var profile *types.AgentProfile
	var restaurant string
	if user != nil {
		restaurant = user.RestaurantName
		if user.HasAgent() {
			profile = user.AgentData
		}
	}

	ctrl := session.NewController(session.Options{
		UserID:       userID,
		Profile:      profile,
		Calls:        h.deps.Calls,
		Transport:    h.deps.Transports.New(),
		Reconciler:   h.deps.Reconciler,
		SampleRate:   h.config.Call.SampleRate,
		EnableUpdate: h.config.Call.EnableUpdate,
		OnChange:     client.sendStatus,
		Logger:       client.logger,
		Metrics:      h.deps.Metrics,
	})
	client.controller = ctrl
	client.metrics = h.deps.Metrics

	client.sendJSON(types.AssistantMsg{
		Type:           types.MsgAssistant,
		RestaurantName: restaurant,
		HasAgent:       profile != nil,
	})
	client.sendStatus(ctrl.Snapshot())

	if !h.hub.Register(client) {
		ctrl.Close()
		conn.Close()
		return
	}

	h.deps.Metrics.RecordPageConnect()
	client.Start()
}
