package store

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for the Redis-backed durable store.
// When URL is set (redis:// or rediss://) it takes precedence over Addr,
// Username, Password, DB and TLS.
type Config struct {
	URL                string        `env:"REDIS_URL"`
	Addr               string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Username           string        `env:"REDIS_USERNAME" envDefault:""`
	Password           string        `env:"REDIS_PASSWORD" envDefault:""`
	DB                 int           `env:"REDIS_DB" envDefault:"0"`
	TLS                bool          `env:"REDIS_TLS" envDefault:"false"`
	InsecureSkipVerify bool          `env:"REDIS_INSECURE_SKIP_VERIFY" envDefault:"false"`
	DialTimeout        time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout        time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout       time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	PoolSize           int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MaxRetries         int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	ClientName         string        `env:"REDIS_CLIENT_NAME" envDefault:"2048tx-reconciler"`
}

// Load loads the store configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse redis config: %w", err)
	}
	return cfg, nil
}
