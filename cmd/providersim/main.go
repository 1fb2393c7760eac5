package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = config.LoadEnvFile()

	cfg, err := simulator.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load simulator configuration")
	}

	// CLI flags override the environment
	var (
		port     = flag.String("port", cfg.Port, "API port")
		logLevel = flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		duration = flag.Duration("call-duration", cfg.CallDuration, "End calls on the agent side after this long (0 waits for a hangup)")
		delay    = flag.Duration("analytics-delay", cfg.AnalyticsDelay, "How long analytics stay empty after a call ends")
	)
	flag.Parse()
	cfg.CallDuration = *duration
	cfg.AnalyticsDelay = *delay

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "providersim").
		Logger()

	api, err := simulator.NewAPI(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create simulator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := api.Start(ctx, ":"+*port); err != nil {
			logger.Error().Err(err).Msg("simulator API stopped")
		}
	}()

	logger.Info().
		Str("api", fmt.Sprintf("http://localhost:%s/v2", *port)).
		Str("realtime", fmt.Sprintf("ws://localhost:%s/realtime", *port)).
		Dur("analytics_delay", cfg.AnalyticsDelay).
		Dur("call_duration", cfg.CallDuration).
		Msg("provider simulator ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down provider simulator")
	cancel()
	time.Sleep(1 * time.Second)
}
