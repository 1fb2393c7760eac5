package storage

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Backend selects the user record store implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendDynamo Backend = "dynamo"
	BackendRedis  Backend = "redis"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// Config holds storage configuration
type Config struct {
	Backend Backend `env:"STORE_BACKEND" envDefault:"memory"`
	Dynamo  DynamoConfig
	Redis   RedisConfig
}

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode       DynamoMode `env:"DYNAMO_MODE" envDefault:"aws"`
	Endpoint   string     `env:"DYNAMO_ENDPOINT" envDefault:"http://localhost:8000"` // for local mode
	Region     string     `env:"DYNAMO_REGION" envDefault:"eu-central-1"`
	UsersTable string     `env:"DYNAMO_USERS_TABLE" envDefault:"hostline-users"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig loads storage config from environment
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse storage config: %w", err)
	}

	switch cfg.Backend {
	case BackendMemory, BackendDynamo, BackendRedis:
	default:
		return Config{}, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.Backend)
	}
	if cfg.Dynamo.Mode != DynamoModeLocal {
		cfg.Dynamo.Mode = DynamoModeAWS
	}
	return cfg, nil
}
