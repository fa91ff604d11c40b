package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/urfave/cli/v2"

	"github.com/0xmdrakib/2048TX/pkg/clickhouse"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/queue"
	"github.com/0xmdrakib/2048TX/pkg/store"
)

var errInvalidContract = errors.New("contract must be a 0x-prefixed 20-byte hex address")

// Config holds all configuration of the reconciler. Flags a command does not
// declare read as zero values.
type Config struct {
	Verbose bool

	// Ledger settings
	RPCURL               string
	Contract             common.Address
	ChainID              int64
	DeployHeight         uint64
	ChunkSize            uint64
	TimestampConcurrency int
	RPCTimeout           time.Duration

	// Notification settings
	DefaultCadence int
	AppURL         string
	NotifyTitle    string
	NotifyBody     string
	GatewayTimeout time.Duration
	BatchLimit     int

	// HTTP surface and schedulers
	HTTPAddr               string
	CronSecret             string
	RefreshMaxBlocks       uint64
	RefreshInterval        time.Duration
	IndexInterval          time.Duration
	IndexMaxBlocks         uint64
	DispatchInterval       time.Duration
	MaxConsecutiveFailures int

	// Archive sinks
	ClickHouseArchive bool
	KafkaArchive      bool

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string

	Store      store.Config
	ClickHouse clickhouse.Config
	Kafka      queue.Config
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// ContractHex returns the contract address, or "" when none is configured.
func (c *Config) ContractHex() string {
	if c.Contract == (common.Address{}) {
		return ""
	}
	return c.Contract.Hex()
}

// buildConfig builds a Config from CLI context flags and the environment.
func buildConfig(c *cli.Context) (*Config, error) {
	storeCfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Verbose:                c.Bool("verbose"),
		RPCURL:                 c.String("rpc-url"),
		ChainID:                c.Int64("chain-id"),
		DeployHeight:           c.Uint64("deploy-block"),
		ChunkSize:              c.Uint64("chunk-size"),
		TimestampConcurrency:   c.Int("timestamp-concurrency"),
		RPCTimeout:             c.Duration("rpc-timeout"),
		DefaultCadence:         c.Int("default-cadence"),
		AppURL:                 c.String("app-url"),
		NotifyTitle:            c.String("notify-title"),
		NotifyBody:             c.String("notify-body"),
		GatewayTimeout:         c.Duration("gateway-timeout"),
		BatchLimit:             c.Int("batch-limit"),
		HTTPAddr:               c.String("http-addr"),
		CronSecret:             c.String("cron-secret"),
		RefreshMaxBlocks:       c.Uint64("refresh-max-blocks"),
		RefreshInterval:        c.Duration("refresh-interval"),
		IndexInterval:          c.Duration("index-interval"),
		IndexMaxBlocks:         c.Uint64("index-max-blocks"),
		DispatchInterval:       c.Duration("dispatch-interval"),
		MaxConsecutiveFailures: c.Int("max-consecutive-failures"),
		ClickHouseArchive:      c.Bool("clickhouse-archive"),
		KafkaArchive:           c.Bool("kafka-archive"),
		MetricsHost:            c.String("metrics-host"),
		MetricsPort:            c.Int("metrics-port"),
		Environment:            c.String("environment"),
		Region:                 c.String("region"),
		CloudProvider:          c.String("cloud-provider"),
		Store:                  storeCfg,
	}

	if raw := c.String("contract"); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%w: %q", errInvalidContract, raw)
		}
		cfg.Contract = common.HexToAddress(raw)
	}
	if cfg.DefaultCadence == 0 {
		cfg.DefaultCadence = subscription.DefaultCadenceHours
	}
	if !subscription.ValidCadence(cfg.DefaultCadence) {
		return nil, fmt.Errorf("%w: %d", subscription.ErrInvalidCadence, cfg.DefaultCadence)
	}
	if cfg.BatchLimit < 0 {
		return nil, fmt.Errorf("batch-limit must not be negative, got %d", cfg.BatchLimit)
	}

	if cfg.ClickHouseArchive {
		if cfg.ClickHouse, err = clickhouse.Load(); err != nil {
			return nil, err
		}
	}
	if cfg.KafkaArchive {
		if cfg.Kafka, err = queue.LoadConfig(); err != nil {
			return nil, err
		}
		if !cfg.Kafka.Enabled() {
			return nil, errors.New("kafka-archive requires KAFKA_BOOTSTRAP_SERVERS")
		}
	}
	return cfg, nil
}
