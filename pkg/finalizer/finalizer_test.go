package finalizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/season"
	"github.com/0xmdrakib/2048TX/pkg/store/testutils"
)

const t0 int64 = 1_700_000_000

type recordingArchiver struct {
	name  string
	fail  map[int64]error
	got   []int64
	hook  func(rec snapshot.Record)
	calls int
}

func (a *recordingArchiver) Name() string { return a.name }

func (a *recordingArchiver) Archive(_ context.Context, rec snapshot.Record) error {
	a.calls++
	if a.hook != nil {
		a.hook(rec)
	}
	if err := a.fail[rec.WindowIndex]; err != nil {
		return err
	}
	a.got = append(a.got, rec.WindowIndex)
	return nil
}

type fixture struct {
	rdb       *redis.Client
	rankings  ranking.Repository
	snapshots snapshot.Repository
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, _ := testutils.NewTestClient(t)
	fx := &fixture{
		rdb:       c.Redis(),
		rankings:  ranking.NewRepository(c.Redis()),
		snapshots: snapshot.NewRepository(c.Redis()),
		now:       time.Unix(t0, 0),
	}
	_, err := fx.rankings.EnsureEpoch(t.Context(), t0)
	require.NoError(t, err)
	return fx
}

func (fx *fixture) finalizer(cfg Config, opts ...Option) *Finalizer {
	opts = append(opts, WithClock(func() time.Time { return fx.now }))
	return New(fx.rankings, fx.snapshots, cfg, zap.NewNop().Sugar(), opts...)
}

func (fx *fixture) score(t *testing.T, w int64, subject string, score float64) {
	t.Helper()
	require.NoError(t, fx.rdb.ZAdd(t.Context(), ranking.WindowKey(w), redis.Z{Member: subject, Score: score}).Err())
}

func TestFinalize_NoClosedWindow(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.now = time.Unix(t0+3600, 0)
	fx.score(t, 0, "0xaaa", 10)

	res, err := fx.finalizer(Config{}).FinalizeCompletedWindows(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.CurrentWindowIndex)
	assert.Empty(t, res.SnappedWindowIndices)
	assert.Equal(t, t0, res.Epoch)

	cur, ok, err := fx.snapshots.ReadCurrent(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot.Current{
		WindowIndex: 0,
		WindowStart: time.Unix(t0, 0).UTC(),
		WindowEnd:   time.Unix(t0+season.WindowSeconds, 0).UTC(),
		SecondsLeft: season.WindowSeconds - 3600,
		UpdatedAt:   fx.now.UnixMilli(),
	}, *cur)

	last, err := fx.snapshots.LastSnapshotted(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), last)
}

func TestFinalize_SnapshotsClosedWindowsOnce(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := t.Context()
	fx.now = time.Unix(t0+3*season.WindowSeconds+60, 0)

	fx.score(t, 0, "0xaaa", 300)
	fx.score(t, 0, "0xbbb", 900)
	fx.score(t, 0, "0xccc", 500)
	fx.score(t, 2, "0xaaa", 42)
	fx.score(t, 3, "0xddd", 1)

	arch := &recordingArchiver{name: "rec"}
	f := fx.finalizer(Config{TopN: 2, ChainID: 8453, Contract: "0xcontract"}, WithArchivers(arch))

	res, err := f.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.CurrentWindowIndex)
	assert.Equal(t, []int64{0, 1, 2}, res.SnappedWindowIndices)
	assert.Equal(t, []int64{0, 1, 2}, arch.got)

	rec, ok, err := fx.snapshots.Get(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []ranking.Entry{{Subject: "0xbbb", Score: 900}, {Subject: "0xccc", Score: 500}}, rec.Top)
	assert.Equal(t, time.Unix(t0, 0).UTC(), rec.WindowStart)
	assert.Equal(t, time.Unix(t0+season.WindowSeconds, 0).UTC(), rec.WindowEnd)
	assert.Equal(t, int64(8453), rec.ChainID)
	assert.Equal(t, "0xcontract", rec.Contract)

	empty, ok, err := fx.snapshots.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, empty.Top)

	_, ok, err = fx.snapshots.Get(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok, "the open window is never snapshotted")

	res, err = f.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.SnappedWindowIndices)
	assert.Equal(t, 3, arch.calls, "re-running must not re-archive")

	list, err := fx.snapshots.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, snapshot.RecordKey(2), list[0].Key)
}

func TestFinalize_ArchiveFailureStopsBeforeCommit(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := t.Context()
	fx.now = time.Unix(t0+3*season.WindowSeconds, 0)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	sinkErr := errors.New("broker down")
	arch := &recordingArchiver{name: "kafka", fail: map[int64]error{1: sinkErr}}
	f := fx.finalizer(Config{}, WithArchivers(arch), WithMetrics(m))

	res, err := f.FinalizeCompletedWindows(ctx)
	require.ErrorIs(t, err, sinkErr)
	require.NotNil(t, res)
	assert.Equal(t, []int64{0}, res.SnappedWindowIndices)

	last, err := fx.snapshots.LastSnapshotted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
	expected := `
# HELP reconciler_snapshot_archived_total Total snapshot archive attempts by sink and status
# TYPE reconciler_snapshot_archived_total counter
reconciler_snapshot_archived_total{sink="kafka",status="error"} 1
reconciler_snapshot_archived_total{sink="kafka",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "reconciler_snapshot_archived_total"))

	delete(arch.fail, 1)
	res, err = f.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.SnappedWindowIndices)
	assert.Equal(t, []int64{0, 1, 2}, arch.got)
}

func TestFinalize_LosingRaceEndsQuietly(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := t.Context()
	fx.now = time.Unix(t0+2*season.WindowSeconds, 0)

	// Another run commits window 0 while this one is archiving it.
	arch := &recordingArchiver{name: "racer"}
	arch.hook = func(rec snapshot.Record) {
		if rec.WindowIndex == 0 {
			_ = fx.snapshots.Commit(context.Background(), rec)
		}
	}
	f := fx.finalizer(Config{}, WithArchivers(arch))

	res, err := f.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.SnappedWindowIndices)

	last, err := fx.snapshots.LastSnapshotted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	res, err = f.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.SnappedWindowIndices)
}

func TestFinalize_AnchorsEpochOnFirstRun(t *testing.T) {
	t.Parallel()
	c, _ := testutils.NewTestClient(t)
	rk := ranking.NewRepository(c.Redis())
	snaps := snapshot.NewRepository(c.Redis())
	now := time.Unix(t0+99, 0)

	f := New(rk, snaps, Config{}, zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))
	res, err := f.FinalizeCompletedWindows(t.Context())
	require.NoError(t, err)
	assert.Equal(t, t0+99, res.Epoch)
	assert.Equal(t, int64(0), res.CurrentWindowIndex)

	epoch, ok, err := rk.Epoch(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0+99, epoch)
}
