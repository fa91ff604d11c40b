package checkpoint

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
)

//go:embed queries/advance.lua
var advanceScript string

var advance = redis.NewScript(advanceScript)

// Watermark keys. They are part of the storage contract shared with the
// public leaderboard and must not change.
const (
	KeyAllTime = "lb:lastBlock"
	KeyWeekly  = "lb:weekly:lastBlock"
)

// Repository persists per-stream watermarks in Redis.
type Repository interface {
	checkpointer.Checkpointer

	// Stage queues a monotonic watermark advance on pipe so it commits
	// atomically with the ranking writes queued on the same transaction.
	Stage(ctx context.Context, pipe redis.Pipeliner, stream checkpointer.Stream, height uint64) error
}

type repository struct {
	rdb redis.UniversalClient
}

// NewRepository creates a new watermark repository.
func NewRepository(rdb redis.UniversalClient) Repository {
	return &repository{rdb: rdb}
}

var _ checkpointer.Checkpointer = (*repository)(nil)

// Key returns the watermark key for a stream.
func Key(stream checkpointer.Stream) (string, error) {
	switch stream {
	case checkpointer.StreamAllTime:
		return KeyAllTime, nil
	case checkpointer.StreamWeekly:
		return KeyWeekly, nil
	default:
		return "", fmt.Errorf("%w: %q", checkpointer.ErrUnknownStream, stream)
	}
}

func (r *repository) Read(ctx context.Context, stream checkpointer.Stream) (uint64, bool, error) {
	key, err := Key(stream)
	if err != nil {
		return 0, false, err
	}
	raw, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read watermark %s: %w", key, err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt watermark %s=%q: %w", key, raw, err)
	}
	return v, true, nil
}

func (r *repository) Write(ctx context.Context, stream checkpointer.Stream, lastProcessed uint64) (uint64, error) {
	key, err := Key(stream)
	if err != nil {
		return 0, err
	}
	stored, err := advance.Run(ctx, r.rdb, []string{key}, lastProcessed).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to advance watermark %s to %d: %w", key, lastProcessed, err)
	}
	return uint64(stored), nil //nolint:gosec // heights stored by this script are never negative
}

func (r *repository) Stage(ctx context.Context, pipe redis.Pipeliner, stream checkpointer.Stream, height uint64) error {
	key, err := Key(stream)
	if err != nil {
		return err
	}
	// EVALSHA is not usable inside MULTI because a NOSCRIPT reply cannot be
	// retried there; send the full script body.
	advance.Eval(ctx, pipe, []string{key}, height)
	return nil
}

func (r *repository) Delete(ctx context.Context, streams ...checkpointer.Stream) error {
	if len(streams) == 0 {
		return nil
	}
	keys := make([]string, 0, len(streams))
	for _, s := range streams {
		key, err := Key(s)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete watermarks %v: %w", keys, err)
	}
	return nil
}
