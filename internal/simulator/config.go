package simulator

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the simulator settings
type Config struct {
	Port     string `env:"SIM_PORT" envDefault:"8090"`
	LogLevel string `env:"SIM_LOG_LEVEL" envDefault:"info"`

	// Key callers must present as a bearer token
	APIKey string `env:"SIM_API_KEY,required"`

	// HMAC secret for call access tokens; random per process when empty
	TokenSecret string        `env:"SIM_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"SIM_TOKEN_TTL" envDefault:"10m"`

	// How long after a call ends its analytics stay empty
	AnalyticsDelay time.Duration `env:"SIM_ANALYTICS_DELAY" envDefault:"10s"`

	// Calls end on their own after this long; zero waits for a hangup
	CallDuration time.Duration `env:"SIM_CALL_DURATION" envDefault:"0s"`
}

// LoadConfig reads the simulator config from the environment
func LoadConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse simulator configuration: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("invalid SIM_TOKEN_TTL: %s", cfg.TokenTTL)
	}
	if cfg.AnalyticsDelay < 0 || cfg.CallDuration < 0 {
		return nil, fmt.Errorf("SIM_ANALYTICS_DELAY and SIM_CALL_DURATION must not be negative")
	}
	return &cfg, nil
}
