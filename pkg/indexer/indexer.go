// Package indexer folds ScoreSubmitted events into the all-time and weekly
// rankings. Every stream advances in fixed-size chunks; a chunk's ranking
// writes and its watermark advance commit in one MULTI/EXEC, so a crash
// resumes at the first uncommitted chunk and replaying a chunk is harmless.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/checkpoint"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/ledger"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/season"
)

const (
	DefaultChunkSize            uint64 = 2000
	DefaultTimestampConcurrency        = 8
)

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Config tunes the indexer. Neither value affects correctness.
type Config struct {
	// ChunkSize is the number of blocks fetched per eth_getLogs call.
	ChunkSize uint64
	// TimestampConcurrency bounds parallel block header lookups.
	TimestampConcurrency int
	// DeployHeight, when non-zero, is where the all-time stream starts on
	// first activation. Otherwise every stream starts at the current head.
	DeployHeight uint64
}

// Result describes one Index call.
type Result struct {
	Stream          checkpointer.Stream `json:"stream"`
	FromHeight      uint64              `json:"fromBlock"`
	ToHeight        uint64              `json:"toBlock"`
	CommittedHeight uint64              `json:"committedBlock"`
	EventsProcessed int                 `json:"logsProcessed"`
	SubjectsTouched int                 `json:"usersTouched"`
	Initialized     bool                `json:"initialized,omitempty"`
	Epoch           int64               `json:"epochSeconds,omitempty"`
}

// Indexer drives the ledger reader over one stream at a time.
type Indexer struct {
	rdb         redis.UniversalClient
	ledger      ledger.Reader
	checkpoints checkpoint.Repository
	rankings    ranking.Repository
	cfg         Config
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
	now         func() time.Time
}

// Option configures the Indexer.
type Option func(*Indexer)

// WithMetrics enables metrics collection for the indexer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) {
		ix.metrics = m
	}
}

// WithClock overrides the wall clock used to anchor the epoch.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) {
		ix.now = now
	}
}

// New creates an indexer.
func New(
	rdb redis.UniversalClient,
	reader ledger.Reader,
	checkpoints checkpoint.Repository,
	rankings ranking.Repository,
	cfg Config,
	log *zap.SugaredLogger,
	opts ...Option,
) (*Indexer, error) {
	if cfg.ChunkSize == 0 {
		return nil, ErrInvalidChunkSize
	}
	if cfg.TimestampConcurrency <= 0 {
		cfg.TimestampConcurrency = DefaultTimestampConcurrency
	}
	ix := &Indexer{
		rdb:         rdb,
		ledger:      reader,
		checkpoints: checkpoints,
		rankings:    rankings,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// IndexAll runs Index for every stream in order and stops at the first
// error. Results of the streams that ran are returned either way.
func (ix *Indexer) IndexAll(ctx context.Context, maxBlocks uint64) ([]*Result, error) {
	results := make([]*Result, 0, len(checkpointer.Streams))
	for _, stream := range checkpointer.Streams {
		res, err := ix.Index(ctx, stream, maxBlocks)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Index advances stream by at most maxBlocks blocks (0 means up to head).
// On error the returned Result still reports what was committed.
func (ix *Indexer) Index(ctx context.Context, stream checkpointer.Stream, maxBlocks uint64) (*Result, error) {
	res := &Result{Stream: stream}

	var epoch int64
	if stream == checkpointer.StreamWeekly {
		e, err := ix.rankings.EnsureEpoch(ctx, ix.now().Unix())
		if err != nil {
			return nil, err
		}
		epoch = e
		res.Epoch = e
	}

	last, exists, err := ix.checkpoints.Read(ctx, stream)
	if err != nil {
		return nil, err
	}
	head, err := ix.ledger.Head(ctx)
	if err != nil {
		return nil, err
	}

	var from uint64
	switch {
	case exists:
		from = last + 1
	case stream == checkpointer.StreamAllTime && ix.cfg.DeployHeight > 0:
		from = ix.cfg.DeployHeight
	default:
		// First activation counts from now on; history is not backfilled.
		stored, err := ix.checkpoints.Write(ctx, stream, head)
		if err != nil {
			return nil, err
		}
		ix.metrics.SetWatermark(string(stream), stored)
		ix.log.Infow("stream activated at head", "stream", stream, "head", head)
		res.FromHeight, res.ToHeight, res.CommittedHeight = head, head, stored
		res.Initialized = true
		return res, nil
	}

	to := head
	// Compared as a span so a huge cap cannot overflow past head.
	if maxBlocks > 0 && from <= to && maxBlocks-1 < to-from {
		to = from + maxBlocks - 1
	}
	res.FromHeight, res.ToHeight = from, to
	if exists {
		res.CommittedHeight = last
	}
	if from > to {
		return res, nil
	}

	touched := make(map[string]struct{})
	timestamps := newTimestampCache()

	for start := from; start <= to; start += ix.cfg.ChunkSize {
		end := min(start+ix.cfg.ChunkSize-1, to)
		n, err := ix.indexChunk(ctx, stream, epoch, start, end, timestamps, touched)
		if err != nil {
			res.SubjectsTouched = len(touched)
			return res, fmt.Errorf("index %s chunk [%d, %d]: %w", stream, start, end, err)
		}
		res.EventsProcessed += n
		res.CommittedHeight = end
		if end == to {
			break
		}
	}
	res.SubjectsTouched = len(touched)

	ix.log.Infow("stream indexed",
		"stream", stream,
		"from", res.FromHeight,
		"to", res.ToHeight,
		"events", res.EventsProcessed,
		"subjects", res.SubjectsTouched,
	)
	return res, nil
}

// indexChunk fetches [start, end] and commits it. It returns the number of
// events fetched.
func (ix *Indexer) indexChunk(
	ctx context.Context,
	stream checkpointer.Stream,
	epoch int64,
	start, end uint64,
	timestamps *timestampCache,
	touched map[string]struct{},
) (int, error) {
	began := time.Now()

	events, err := ix.ledger.Logs(ctx, start, end)
	if err != nil {
		return 0, err
	}

	if stream == checkpointer.StreamWeekly && len(events) > 0 {
		if err := ix.warmTimestamps(ctx, events, timestamps); err != nil {
			return 0, err
		}
	}

	applied := make([]string, 0, len(events))
	_, err = ix.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			switch stream {
			case checkpointer.StreamAllTime:
				ix.rankings.StageAllTime(ctx, pipe, ev.Subject, int64(ev.BestScore))
			case checkpointer.StreamWeekly:
				ts, _ := timestamps.get(ev.BlockHeight)
				w := season.WindowIndex(epoch, ts)
				if w < 0 {
					continue
				}
				ix.rankings.StageWindow(ctx, pipe, w, ev.Subject, int64(ev.Score))
			}
			applied = append(applied, ev.Subject)
		}
		return ix.checkpoints.Stage(ctx, pipe, stream, end)
	})
	if err != nil {
		ix.metrics.IncError(metrics.ErrTypeStore)
		return 0, fmt.Errorf("commit chunk: %w", err)
	}

	for _, s := range applied {
		touched[s] = struct{}{}
	}
	ix.metrics.CommitChunk(string(stream), end-start+1, len(events), end, time.Since(began).Seconds())
	ix.log.Debugw("chunk committed",
		"stream", stream,
		"from", start,
		"to", end,
		"events", len(events),
		"duration_ms", time.Since(began).Milliseconds(),
	)
	return len(events), nil
}

// warmTimestamps resolves the block timestamp of every event with bounded
// concurrency so the commit loop does no I/O.
func (ix *Indexer) warmTimestamps(ctx context.Context, events []ledger.Event, cache *timestampCache) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.TimestampConcurrency)

	seen := make(map[uint64]struct{}, len(events))
	for _, ev := range events {
		h := ev.BlockHeight
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := cache.get(h); ok {
			continue
		}
		g.Go(func() error {
			ts, err := ix.ledger.BlockTimestamp(gctx, h)
			if err != nil {
				return err
			}
			cache.set(h, ts)
			return nil
		})
	}
	return g.Wait()
}

type timestampCache struct {
	mu sync.RWMutex
	m  map[uint64]int64
}

func newTimestampCache() *timestampCache {
	return &timestampCache{m: make(map[uint64]int64)}
}

func (c *timestampCache) get(h uint64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.m[h]
	return ts, ok
}

func (c *timestampCache) set(h uint64, ts int64) {
	c.mu.Lock()
	c.m[h] = ts
	c.mu.Unlock()
}
