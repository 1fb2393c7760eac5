// Package simulator is an in-memory stand-in for the hosted voice-call
// provider: it creates web calls, serves their realtime channel and later
// their analytics.
package simulator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// API serves the provider endpoints
type API struct {
	config   *Config
	calls    *Registry
	tokens   *Tokens
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewAPI creates the simulator API
func NewAPI(cfg *Config, logger zerolog.Logger) (*API, error) {
	tokens, err := NewTokens(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &API{
		config: cfg,
		calls:  NewRegistry(cfg.AnalyticsDelay),
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}, nil
}

// Calls exposes the registry
func (api *API) Calls() *Registry {
	return api.calls
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/stats", api.statsHandler).Methods("GET")

	v2 := router.PathPrefix("/v2").Subrouter()
	v2.Use(api.requireKey)
	v2.HandleFunc("/create-web-call", api.createWebCallHandler).Methods("POST")
	v2.HandleFunc("/get-call/{callId}", api.getCallHandler).Methods("GET")

	router.HandleFunc("/realtime/{callId}", api.realtimeHandler).Methods("GET")
}

// requireKey rejects requests without the configured bearer key
func (api *API) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(key), []byte(api.config.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// healthHandler returns service health
func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statsHandler returns call registry statistics
func (api *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.calls.Stats())
}

// createWebCallHandler registers a call and returns its access token
func (api *API) createWebCallHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}

	call := api.calls.Create(req.AgentID)
	token, err := api.tokens.Issue(call.ID, call.AgentID)
	if err != nil {
		api.logger.Error().Err(err).Msg("failed to sign access token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	api.logger.Info().Str("call_id", call.ID).Str("agent_id", call.AgentID).Msg("web call created")
	writeJSON(w, http.StatusCreated, map[string]string{
		"call_id":      call.ID,
		"agent_id":     call.AgentID,
		"access_token": token,
		"call_status":  string(call.State),
	})
}

// getCallHandler returns a call's analytics, or {} while they are pending
func (api *API) getCallHandler(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]
	record, ok := api.calls.Analytics(callID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Start serves the API on addr until ctx is done
func (api *API) Start(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		api.logger.Info().Msg("shutting down simulator API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	api.logger.Info().Str("addr", addr).Msg("simulator API started")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// frame marshals a realtime frame
func frame(f transport.Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}
