// Package finalizer turns closed weekly windows into immutable snapshots.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/season"
)

// DefaultTopN is the number of entries kept per snapshot.
const DefaultTopN int64 = 100

// Archiver receives every snapshot before it is committed. Archive must be
// idempotent by window index: a failed commit archives the window again on
// the next run.
type Archiver interface {
	Name() string
	Archive(ctx context.Context, rec snapshot.Record) error
}

// Config holds the metadata stamped onto every snapshot.
type Config struct {
	TopN     int64
	ChainID  int64
	Contract string
}

// Result describes one FinalizeCompletedWindows call.
type Result struct {
	CurrentWindowIndex   int64   `json:"currentWeekIndex"`
	SnappedWindowIndices []int64 `json:"snappedWeeks"`
	Epoch                int64   `json:"epochSeconds"`
}

// Finalizer snapshots every closed window exactly once, in order.
type Finalizer struct {
	rankings  ranking.Repository
	snapshots snapshot.Repository
	archivers []Archiver
	cfg       Config
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

// Option configures the Finalizer.
type Option func(*Finalizer)

// WithArchivers adds snapshot sinks. They run in the given order.
func WithArchivers(a ...Archiver) Option {
	return func(f *Finalizer) {
		f.archivers = append(f.archivers, a...)
	}
}

// WithMetrics enables metrics collection for the finalizer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) {
		f.metrics = m
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		f.now = now
	}
}

// New creates a finalizer.
func New(
	rankings ranking.Repository,
	snapshots snapshot.Repository,
	cfg Config,
	log *zap.SugaredLogger,
	opts ...Option,
) *Finalizer {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	f := &Finalizer{
		rankings:  rankings,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FinalizeCompletedWindows refreshes the current window meta and snapshots
// every window in (lastSnapshotted, current-1]. Losing a commit race to a
// concurrent run ends the call without error.
func (f *Finalizer) FinalizeCompletedWindows(ctx context.Context) (*Result, error) {
	began := time.Now()
	defer func() { f.metrics.ObserveFinalizerRun(time.Since(began).Seconds()) }()

	now := f.now()
	epoch, err := f.rankings.EnsureEpoch(ctx, now.Unix())
	if err != nil {
		return nil, err
	}
	meta := season.CurrentWindowMeta(epoch, now.Unix())
	res := &Result{
		CurrentWindowIndex:   meta.Index,
		SnappedWindowIndices: []int64{},
		Epoch:                epoch,
	}

	if err := f.snapshots.WriteCurrent(ctx, snapshot.Current{
		WindowIndex: meta.Index,
		WindowStart: time.Unix(meta.Start, 0).UTC(),
		WindowEnd:   time.Unix(meta.End, 0).UTC(),
		SecondsLeft: meta.SecondsLeft,
		UpdatedAt:   now.UnixMilli(),
	}); err != nil {
		return res, err
	}
	f.metrics.SetCurrentWindow(meta.Index)

	target := meta.Index - 1
	if target < 0 {
		return res, nil
	}

	last, err := f.snapshots.LastSnapshotted(ctx)
	if err != nil {
		return res, err
	}

	for w := last + 1; w <= target; w++ {
		done, err := f.finalizeWindow(ctx, epoch, w)
		if err != nil {
			return res, err
		}
		if !done {
			break
		}
		res.SnappedWindowIndices = append(res.SnappedWindowIndices, w)
	}

	if len(res.SnappedWindowIndices) > 0 {
		f.log.Infow("windows snapshotted",
			"current", meta.Index,
			"snapped", res.SnappedWindowIndices,
			"duration_ms", time.Since(began).Milliseconds(),
		)
	}
	return res, nil
}

// finalizeWindow snapshots window w. It reports false when another run
// committed w (or a later window) first.
func (f *Finalizer) finalizeWindow(ctx context.Context, epoch, w int64) (bool, error) {
	top, err := f.rankings.TopWindow(ctx, w, f.cfg.TopN)
	if err != nil {
		return false, err
	}
	start, end := season.WindowBounds(epoch, w)
	rec := snapshot.Record{
		WindowIndex: w,
		CreatedAt:   f.now().UTC(),
		WindowStart: time.Unix(start, 0).UTC(),
		WindowEnd:   time.Unix(end, 0).UTC(),
		ChainID:     f.cfg.ChainID,
		Contract:    f.cfg.Contract,
		Top:         top,
	}

	for _, a := range f.archivers {
		err := a.Archive(ctx, rec)
		f.metrics.RecordArchive(a.Name(), err)
		if err != nil {
			return false, fmt.Errorf("archive window %d to %s: %w", w, a.Name(), err)
		}
	}

	err = f.snapshots.Commit(ctx, rec)
	switch {
	case err == nil:
		f.metrics.RecordSnapshot(w)
		f.log.Debugw("window snapshotted", "window", w, "entries", len(top))
		return true, nil
	case errors.Is(err, snapshot.ErrConflict), errors.Is(err, snapshot.ErrAlreadySnapshotted):
		f.metrics.IncSnapshotConflict()
		f.log.Infow("snapshot committed by another run", "window", w, "error", err)
		return false, nil
	default:
		f.metrics.IncError(metrics.ErrTypeStore)
		return false, err
	}
}
