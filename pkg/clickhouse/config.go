package clickhouse

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration of the snapshot archive connection.
// Only a handful of rows are written per closed window, so the pool is small
// and the block size stays at the driver's default scale.
type Config struct {
	Hosts              []string      `env:"CLICKHOUSE_HOSTS" envSeparator:"," envDefault:"localhost:9000"`
	Database           string        `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username           string        `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password           string        `env:"CLICKHOUSE_PASSWORD" envDefault:""`
	Debug              bool          `env:"CLICKHOUSE_DEBUG" envDefault:"false"`
	TLS                bool          `env:"CLICKHOUSE_TLS" envDefault:"false"`
	InsecureSkipVerify bool          `env:"CLICKHOUSE_INSECURE_SKIP_VERIFY" envDefault:"false"`
	MaxExecutionTime   int           `env:"CLICKHOUSE_MAX_EXECUTION_TIME" envDefault:"60"` // seconds
	DialTimeout        time.Duration `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"10s"`
	MaxOpenConns       int           `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"2"`
	MaxIdleConns       int           `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime    time.Duration `env:"CLICKHOUSE_CONN_MAX_LIFETIME" envDefault:"10m"`
	ClientName         string        `env:"CLICKHOUSE_CLIENT_NAME" envDefault:"2048tx-reconciler"`
	ClientVersion      string        `env:"CLICKHOUSE_CLIENT_VERSION" envDefault:"1.0"`
	SnapshotTable      string        `env:"CLICKHOUSE_SNAPSHOT_TABLE" envDefault:"leaderboard_snapshots"`
}

// Load loads the ClickHouse configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse clickhouse config: %w", err)
	}
	return cfg, nil
}
