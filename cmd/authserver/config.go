package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverConfig is loaded from the environment. REDIS_ADDR left empty
// runs an embedded miniredis, which is only useful for local
// development.
type serverConfig struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	RedisAddr    string        `env:"REDIS_ADDR"`
	Namespace    string        `env:"NAMESPACE" envDefault:"mshop"`
	Secret       string        `env:"AUTH_SECRET"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	DevicePolicy string        `env:"DEVICE_POLICY" envDefault:"single"`
	RootRole     string        `env:"ROOT_ROLE" envDefault:"admin"`
	Heartbeat    time.Duration `env:"WS_HEARTBEAT" envDefault:"30s"`
	SweepEvery   time.Duration `env:"SWEEP_EVERY" envDefault:"10m"`
	SeedPassword string        `env:"SEED_PASSWORD" envDefault:"changeme"`
}

func loadConfig() (*serverConfig, error) {
	cfg := serverConfig{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}
	return &cfg, nil
}
