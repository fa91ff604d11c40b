// Package scheduler runs a job on a fixed interval with bounded retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/metrics"
)

const (
	DefaultRunTimeout = 55 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 300 * time.Millisecond
)

var ErrInvalidInterval = errors.New("interval must be positive")

// Job is one unit of periodic work. It must be safe to run again after a
// failure.
type Job func(ctx context.Context) error

// Config controls how a job is driven.
type Config struct {
	Name     string
	Interval time.Duration
	// RunTimeout bounds each attempt.
	RunTimeout time.Duration
	// MaxRetries is the number of extra attempts after a failed one.
	MaxRetries int
	Backoff    time.Duration
	// MaxConsecutiveFailures stops the scheduler with an error once that
	// many ticks in a row fail. Zero keeps it running.
	MaxConsecutiveFailures int
	// RunOnStart runs the job once before the first tick.
	RunOnStart bool
}

func (c *Config) setDefaults() {
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
}

// Start runs job every cfg.Interval until ctx is done. It returns nil on
// cancellation and an error only when MaxConsecutiveFailures is reached.
func Start(
	ctx context.Context,
	cfg Config,
	job Job,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("%s: %w", cfg.Name, ErrInvalidInterval)
	}
	cfg.setDefaults()

	failures := 0
	tick := func() error {
		err := runWithRetries(ctx, cfg, job, log, m)
		if err == nil || ctx.Err() != nil {
			failures = 0
			return nil
		}
		failures++
		log.Errorw("scheduled job failed",
			"job", cfg.Name,
			"consecutive_failures", failures,
			"error", err,
		)
		if cfg.MaxConsecutiveFailures > 0 && failures >= cfg.MaxConsecutiveFailures {
			return fmt.Errorf("job %s failed %d times in a row: %w", cfg.Name, failures, err)
		}
		return nil
	}

	if cfg.RunOnStart {
		if err := tick(); err != nil {
			return err
		}
	}

	t := time.NewTicker(cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := tick(); err != nil {
				return err
			}
		}
	}
}

func runWithRetries(
	ctx context.Context,
	cfg Config,
	job Job,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) error {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		began := time.Now()
		ctxR, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		err = job(ctxR)
		cancel()
		m.RecordJobRun(cfg.Name, err, time.Since(began).Seconds())
		if err == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		log.Warnw("job attempt failed, retrying",
			"job", cfg.Name,
			"attempt", attempt+1,
			"backoff", cfg.Backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff):
		}
	}
	return err
}
