package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
)

const (
	// KeyLastSnapshotted holds the index of the last fully snapshotted window.
	KeyLastSnapshotted = "lb:weekly:lastSnapWeek"
	// KeyHistory lists snapshot record keys, newest first.
	KeyHistory = "lb:weekly:snapshots"
	// KeyCurrent holds the meta of the window containing "now".
	KeyCurrent = "lb:weekly:current"

	recordKeyPrefix = "lb:weekly:snapshot:"
)

var (
	// ErrAlreadySnapshotted is returned when the window is not past the
	// stored watermark. Another invocation finished it first.
	ErrAlreadySnapshotted = errors.New("window already snapshotted")
	// ErrOutOfOrder is returned when committing would skip a window.
	ErrOutOfOrder = errors.New("window committed out of order")
	// ErrConflict is returned when the watermark changed during the commit.
	ErrConflict = errors.New("concurrent snapshot commit")
)

// Record is the immutable top-N of a closed window.
type Record struct {
	WindowIndex int64           `json:"weekIndex"`
	CreatedAt   time.Time       `json:"createdAt"`
	WindowStart time.Time       `json:"weekStartsAt"`
	WindowEnd   time.Time       `json:"weekEndsAt"`
	ChainID     int64           `json:"chainId"`
	Contract    string          `json:"contract,omitempty"`
	Top         []ranking.Entry `json:"top100"`
}

// Stored pairs a record with the key it is stored under.
type Stored struct {
	Key string `json:"key"`
	Record
}

// Current is the meta of the window containing the time it was written.
type Current struct {
	WindowIndex int64     `json:"weekIndex"`
	WindowStart time.Time `json:"weekStartsAt"`
	WindowEnd   time.Time `json:"weekEndsAt"`
	SecondsLeft int64     `json:"secondsLeft"`
	UpdatedAt   int64     `json:"updatedAt"`
}

// RecordKey returns the key of window w's snapshot record.
func RecordKey(w int64) string {
	return recordKeyPrefix + strconv.FormatInt(w, 10)
}

// Repository persists snapshot records and the last-snapshotted watermark.
type Repository interface {
	// LastSnapshotted returns the last fully snapshotted window, or -1.
	LastSnapshotted(ctx context.Context) (int64, error)
	// Commit writes rec, appends it to the history and advances the
	// watermark to rec.WindowIndex in one optimistic transaction.
	Commit(ctx context.Context, rec Record) error
	// Get returns window w's snapshot.
	Get(ctx context.Context, w int64) (*Record, bool, error)
	// List returns up to limit snapshots, newest first.
	List(ctx context.Context, limit int64) ([]Stored, error)
	// WriteCurrent stores the current window meta.
	WriteCurrent(ctx context.Context, cur Current) error
	// ReadCurrent reads the current window meta.
	ReadCurrent(ctx context.Context) (*Current, bool, error)
	// Reset removes every record, the history and the watermark. Out-of-band
	// reset only. It returns the number of records removed.
	Reset(ctx context.Context) (int64, error)
}

type repository struct {
	rdb redis.UniversalClient
}

// NewRepository creates a new snapshot repository.
func NewRepository(rdb redis.UniversalClient) Repository {
	return &repository{rdb: rdb}
}

func (r *repository) LastSnapshotted(ctx context.Context) (int64, error) {
	return lastSnapshotted(ctx, r.rdb)
}

func lastSnapshotted(ctx context.Context, c redis.Cmdable) (int64, error) {
	raw, err := c.Get(ctx, KeyLastSnapshotted).Result()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last snapshotted window: %w", err)
	}
	w, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt last snapshotted window %q: %w", raw, err)
	}
	return w, nil
}

func (r *repository) Commit(ctx context.Context, rec Record) error {
	w := rec.WindowIndex
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %d: %w", w, err)
	}
	key := RecordKey(w)

	txf := func(tx *redis.Tx) error {
		last, err := lastSnapshotted(ctx, tx)
		if err != nil {
			return err
		}
		if last >= w {
			return fmt.Errorf("%w: window %d, last %d", ErrAlreadySnapshotted, w, last)
		}
		if last != w-1 {
			return fmt.Errorf("%w: window %d, last %d", ErrOutOfOrder, w, last)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.LPush(ctx, KeyHistory, key)
			pipe.Set(ctx, KeyLastSnapshotted, w, 0)
			return nil
		})
		return err
	}

	err = r.rdb.Watch(ctx, txf, KeyLastSnapshotted)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: window %d", ErrConflict, w)
	case errors.Is(err, ErrAlreadySnapshotted), errors.Is(err, ErrOutOfOrder):
		return err
	default:
		return fmt.Errorf("failed to commit snapshot %d: %w", w, err)
	}
}

func (r *repository) Get(ctx context.Context, w int64) (*Record, bool, error) {
	key := RecordKey(w)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return &rec, true, nil
}

func (r *repository) List(ctx context.Context, limit int64) ([]Stored, error) {
	if limit <= 0 {
		return nil, nil
	}
	keys, err := r.rdb.LRange(ctx, KeyHistory, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot history: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot records: %w", err)
	}

	out := make([]Stored, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, Stored{Key: keys[i], Record: rec})
	}
	return out, nil
}

func (r *repository) WriteCurrent(ctx context.Context, cur Current) error {
	payload, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to marshal current window: %w", err)
	}
	if err := r.rdb.Set(ctx, KeyCurrent, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to write current window: %w", err)
	}
	return nil
}

func (r *repository) ReadCurrent(ctx context.Context) (*Current, bool, error) {
	raw, err := r.rdb.Get(ctx, KeyCurrent).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read current window: %w", err)
	}
	var cur Current
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal current window: %w", err)
	}
	return &cur, true, nil
}

func (r *repository) Reset(ctx context.Context) (int64, error) {
	keys, err := r.rdb.LRange(ctx, KeyHistory, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot history: %w", err)
	}
	keys = append(keys, KeyHistory, KeyLastSnapshotted, KeyCurrent)
	if _, err := r.rdb.Del(ctx, keys...).Result(); err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return int64(len(keys) - 3), nil
}
