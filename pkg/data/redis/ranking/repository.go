package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyAllTime is the all-time ranking (member=address, score=bestScore).
	KeyAllTime = "lb:z"
	// KeyEpoch holds the unix second the first window starts at.
	KeyEpoch = "lb:weekly:epoch"

	windowKeyPrefix = "lb:weekly:z:"
)

var ErrInvalidLimit = errors.New("limit must be positive")

// Entry is one ranked subject.
type Entry struct {
	Subject string `json:"address"`
	Score   int64  `json:"bestScore"`
}

// WindowKey returns the ranking key of window w.
func WindowKey(w int64) string {
	return windowKeyPrefix + strconv.FormatInt(w, 10)
}

// Repository reads and writes ranking sorted sets and the window epoch.
type Repository interface {
	// StageAllTime queues an unconditional upsert of subject's best score.
	StageAllTime(ctx context.Context, pipe redis.Pipeliner, subject string, best int64)
	// StageWindow queues an upsert into window w that only applies when score
	// is greater than the stored one.
	StageWindow(ctx context.Context, pipe redis.Pipeliner, w int64, subject string, score int64)

	// TopAllTime returns the n highest all-time entries, highest first.
	TopAllTime(ctx context.Context, n int64) ([]Entry, error)
	// TopWindow returns the n highest entries of window w, highest first.
	TopWindow(ctx context.Context, w int64, n int64) ([]Entry, error)
	// WindowScore returns subject's score in window w.
	WindowScore(ctx context.Context, w int64, subject string) (int64, bool, error)

	// EnsureEpoch anchors the epoch at now unless one is already stored and
	// returns the stored epoch. Concurrent callers all observe the same value.
	EnsureEpoch(ctx context.Context, now int64) (int64, error)
	// Epoch returns the stored epoch, if any.
	Epoch(ctx context.Context) (int64, bool, error)
	// DeleteEpoch removes the epoch anchor. Out-of-band reset only.
	DeleteEpoch(ctx context.Context) error
}

type repository struct {
	rdb redis.UniversalClient
}

// NewRepository creates a new ranking repository.
func NewRepository(rdb redis.UniversalClient) Repository {
	return &repository{rdb: rdb}
}

func (r *repository) StageAllTime(ctx context.Context, pipe redis.Pipeliner, subject string, best int64) {
	pipe.ZAdd(ctx, KeyAllTime, redis.Z{Score: float64(best), Member: subject})
}

func (r *repository) StageWindow(ctx context.Context, pipe redis.Pipeliner, w int64, subject string, score int64) {
	pipe.ZAddArgs(ctx, WindowKey(w), redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(score), Member: subject}},
	})
}

func (r *repository) TopAllTime(ctx context.Context, n int64) ([]Entry, error) {
	return r.top(ctx, KeyAllTime, n)
}

func (r *repository) TopWindow(ctx context.Context, w int64, n int64) ([]Entry, error) {
	return r.top(ctx, WindowKey(w), n)
}

func (r *repository) top(ctx context.Context, key string, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	zs, err := r.rdb.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
		Key:   key,
		Start: 0,
		Stop:  n - 1,
		Rev:   true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top %d of %s: %w", n, key, err)
	}

	// Store order is kept as-is: equal scores stay in the order Redis returns.
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok || member == "" {
			continue
		}
		entries = append(entries, Entry{Subject: member, Score: int64(z.Score)})
	}
	return entries, nil
}

func (r *repository) WindowScore(ctx context.Context, w int64, subject string) (int64, bool, error) {
	key := WindowKey(w)
	score, err := r.rdb.ZScore(ctx, key, subject).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read score of %s in %s: %w", subject, key, err)
	}
	return int64(score), true, nil
}

func (r *repository) EnsureEpoch(ctx context.Context, now int64) (int64, error) {
	if err := r.rdb.SetNX(ctx, KeyEpoch, now, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to anchor epoch: %w", err)
	}
	epoch, ok, err := r.Epoch(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Deleted between SETNX and GET by an out-of-band reset.
		return now, nil
	}
	return epoch, nil
}

func (r *repository) Epoch(ctx context.Context) (int64, bool, error) {
	raw, err := r.rdb.Get(ctx, KeyEpoch).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read epoch: %w", err)
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt epoch %q: %w", raw, err)
	}
	return epoch, true, nil
}

func (r *repository) DeleteEpoch(ctx context.Context) error {
	if err := r.rdb.Del(ctx, KeyEpoch).Err(); err != nil {
		return fmt.Errorf("failed to delete epoch: %w", err)
	}
	return nil
}
