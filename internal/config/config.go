package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"local"`

	// Base URL of the local provider simulator; admin proxy routes are
	// disabled when empty
	SimulatorURL string `env:"SIMULATOR_URL"`

	// WebSocket timeouts, in seconds
	WSReadTimeoutSecs  int `env:"WS_READ_TIMEOUT" envDefault:"60"`
	WSWriteTimeoutSecs int `env:"WS_WRITE_TIMEOUT" envDefault:"10"`

	Provider  ProviderConfig
	Call      CallConfig
	Reconcile ReconcileConfig

	// Derived from the WebSocket timeouts
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// ProviderConfig points at the hosted voice-call provider
type ProviderConfig struct {
	BaseURL     string `env:"PROVIDER_BASE_URL" envDefault:"https://api.retellai.com"`
	APIKey      string `env:"PROVIDER_API_KEY,required"`
	RealtimeURL string `env:"PROVIDER_REALTIME_URL" envDefault:"wss://api.retellai.com/realtime"`
	TimeoutSecs int    `env:"PROVIDER_TIMEOUT" envDefault:"15"`
}

// Timeout returns the per-request provider timeout
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// CallConfig holds the audio settings passed when a call starts
type CallConfig struct {
	SampleRate   int  `env:"CALL_SAMPLE_RATE" envDefault:"16000"`
	EnableUpdate bool `env:"CALL_ENABLE_UPDATE" envDefault:"true"`
}

// ReconcileConfig bounds the analytics polling loop
type ReconcileConfig struct {
	MaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"10"`
	Delay       time.Duration `env:"RECONCILE_DELAY" envDefault:"5s"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load the env file (ignore error if it doesn't exist)
	_ = LoadEnvFile()

	config, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if config.WSReadTimeoutSecs <= 0 {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %d", config.WSReadTimeoutSecs)
	}
	if config.WSWriteTimeoutSecs <= 0 {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %d", config.WSWriteTimeoutSecs)
	}
	if config.Reconcile.MaxAttempts <= 0 {
		return nil, fmt.Errorf("invalid RECONCILE_MAX_ATTEMPTS: %d", config.Reconcile.MaxAttempts)
	}
	if config.Reconcile.Delay < 0 {
		return nil, fmt.Errorf("invalid RECONCILE_DELAY: %s", config.Reconcile.Delay)
	}

	config.WSReadTimeout = time.Duration(config.WSReadTimeoutSecs) * time.Second
	config.WSWriteTimeout = time.Duration(config.WSWriteTimeoutSecs) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return &config, nil
}

// LoadEnvFile loads ENV_FILE (or .env) into the process environment
func LoadEnvFile() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return godotenv.Load(envFile)
	}
	return godotenv.Load()
}
