package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis connection shared by every repository.
type Client interface {
	// Redis returns the underlying go-redis client
	Redis() *redis.Client
	// Ping checks the connection to Redis
	Ping(ctx context.Context) error
	// Close closes the connection pool
	Close() error
}

// Timeout for the initial ping during client creation
const defaultPingTimeout = 10 * time.Second

// ErrMissingAddress is returned when neither REDIS_URL nor REDIS_ADDR is set.
var ErrMissingAddress = errors.New("redis address is required")

type client struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

// New creates a Redis client from cfg and pings it. If the ping fails the
// service should not start: every component keeps its durable state here.
func New(cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		if sugar != nil {
			sugar.Errorw("failed to ping redis", "addr", opts.Addr, "db", opts.DB, "error", err)
		}
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	return &client{rdb: rdb, logger: sugar}, nil
}

// NewWithClient wraps an already configured go-redis client.
func NewWithClient(rdb *redis.Client, sugar *zap.SugaredLogger) Client {
	return &client{rdb: rdb, logger: sugar}
}

func options(cfg Config) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		if cfg.Addr == "" {
			return nil, ErrMissingAddress
		}
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
				//nolint:gosec // InsecureSkipVerify is configurable via environment variable for development/testing
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			}
		}
	}

	opts.ClientName = cfg.ClientName
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	return opts, nil
}

func (c *client) Redis() *redis.Client {
	return c.rdb
}

func (c *client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *client) Close() error {
	return c.rdb.Close()
}
