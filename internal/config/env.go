// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spdeepak/shellcache"
)

// Env holds the settings a shellcache process reads from its environment.
// Command-line flags override them.
type Env struct {
	Listen          string        `env:"SHELLCACHE_LISTEN" envDefault:":8080"`
	Origin          string        `env:"SHELLCACHE_ORIGIN"`
	StaticDir       string        `env:"SHELLCACHE_STATIC_DIR"`
	DB              string        `env:"SHELLCACHE_DB"`
	Generation      string        `env:"SHELLCACHE_GENERATION" envDefault:"plastic-eliminator-v1"`
	WakeInterval    time.Duration `env:"SHELLCACHE_WAKE_INTERVAL" envDefault:"24h"`
	MaxBodyBytes    int64         `env:"SHELLCACHE_MAX_BODY_BYTES" envDefault:"10485760"`
	MemoryMB        int           `env:"SHELLCACHE_MEMORY_MB" envDefault:"64"`
	ShutdownTimeout time.Duration `env:"SHELLCACHE_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	LogLevel        string        `env:"SHELLCACHE_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint    string        `env:"SHELLCACHE_OTEL_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Env.
func Load() (Env, error) {
	var cfg Env
	if err := ParseEnv(&cfg); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// WorkerConfig builds the worker settings from cfg.
func (cfg Env) WorkerConfig() *shellcache.Config {
	workerCfg := *shellcache.DefaultConfig
	workerCfg.Generation = cfg.Generation
	workerCfg.MaxBodyBytes = cfg.MaxBodyBytes
	return &workerCfg
}
