package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures engine-level tunables. Credentials (API key, app user ID)
// are constructor arguments, not configuration; everything here has a working
// default so hosts can embed the SDK with zero environment setup.
type Config struct {
	// BackendURL is the base URL of the receipt validation service.
	BackendURL string `env:"PURCHASEKIT_BACKEND_URL" envDefault:"https://api.purchasekit.dev"`

	// RequestTimeout bounds a single backend attempt.
	RequestTimeout time.Duration `env:"PURCHASEKIT_REQUEST_TIMEOUT" envDefault:"10s"`

	// MaxAttempts bounds validation retries for transient failures.
	MaxAttempts int `env:"PURCHASEKIT_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration `env:"PURCHASEKIT_RETRY_BASE_DELAY" envDefault:"500ms"`

	// RestoreQuiescence closes a restore batch after arrivals stop for this
	// long.
	RestoreQuiescence time.Duration `env:"PURCHASEKIT_RESTORE_QUIESCENCE" envDefault:"2s"`

	Redis RedisConfig `envPrefix:"PURCHASEKIT_REDIS_"`
}

// RedisConfig configures the optional cross-process purchaser info mirror.
// An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// FromEnv parses Config from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns the zero-environment configuration. Used by tests and by
// hosts that configure the engine purely through options.
func Default() Config {
	return Config{
		BackendURL:        "https://api.purchasekit.dev",
		RequestTimeout:    10 * time.Second,
		MaxAttempts:       3,
		RetryBaseDelay:    500 * time.Millisecond,
		RestoreQuiescence: 2 * time.Second,
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}
