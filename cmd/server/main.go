package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/hostline/internal/api"
	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/provider"
	"github.com/dennisdiepolder/hostline/internal/reconcile"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/dennisdiepolder/hostline/internal/websocket"
	"github.com/dennisdiepolder/hostline/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	storeCfg, err := storage.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load storage configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("store", string(storeCfg.Backend)).
		Str("provider", cfg.Provider.BaseURL).
		Msg("starting hostline server")

	// Pages and the hub live on ctx; reconciliations started from the
	// admin API live on reconcileCtx so shutdown can drain them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconcileCtx, cancelReconciles := context.WithCancel(context.Background())
	defer cancelReconciles()

	store, err := storage.NewStore(ctx, storeCfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}

	m := metrics.Get()

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout(), log.Logger)

	reconciler := reconcile.New(providerClient, store, reconcile.Options{
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Delay:       cfg.Reconcile.Delay,
		Logger:      log.Logger,
		Metrics:     m,
		OnSaved: func(userID, callID string) {
			if err := hub.SendToUser(userID, types.AnalyticsSavedMsg{Type: types.MsgAnalytics, CallID: callID}); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("failed to notify pages")
			}
		},
	})

	// Create WebSocket handler
	wsHandler := websocket.NewHandler(hub, cfg, websocket.PageDeps{
		Store:      store,
		Calls:      providerClient,
		Transports: transport.NewFactory(cfg.Provider.RealtimeURL, log.Logger),
		Reconciler: reconciler,
		Metrics:    m,
	}, log.Logger)

	users := api.NewUserHandler(store, log.Logger)
	admin := api.NewAdminHandler(reconcileCtx, store, reconciler, cfg.SimulatorURL, log.Logger)

	r := newRouter(cfg, m, wsHandler, users, admin)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests, then disconnect pages
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	if err := reconciler.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("reconciliations still running at shutdown, canceling")
		cancelReconciles()
	}

	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}

	log.Info().Msg("server stopped")
}

// newRouter wires middleware and every route
func newRouter(cfg *config.Config, m *metrics.Metrics, pages http.Handler, users *api.UserHandler, admin *api.AdminHandler) chi.Router {
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/ws/pages/{userId}", pages.ServeHTTP)
	api.Mount(r, users, admin)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"hostline"}`)
}
