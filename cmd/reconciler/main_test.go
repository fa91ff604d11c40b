package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/finalizer"
	"github.com/0xmdrakib/2048TX/pkg/indexer"
	"github.com/0xmdrakib/2048TX/pkg/ledger"
	"github.com/0xmdrakib/2048TX/pkg/notify"
	"github.com/0xmdrakib/2048TX/pkg/season"
	"github.com/0xmdrakib/2048TX/pkg/store/testutils"
)

const epoch int64 = 1_700_000_000

func newTestStores(t *testing.T) *stores {
	t.Helper()
	client, _ := testutils.NewTestClient(t)
	st, err := newStores(client, subscription.DefaultCadenceHours, zap.NewNop().Sugar())
	require.NoError(t, err)
	return st
}

// configFromArgs runs a command declaring the run flags and returns the
// config built from args.
func configFromArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg      *Config
		buildErr error
	)
	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: flagSet([]cli.Flag{verboseFlag()}, ledgerFlags(), archiveFlags(), notifyFlags(), metricsFlags(), serveFlags()),
			Action: func(c *cli.Context) error {
				cfg, buildErr = buildConfig(c)
				return nil
			},
		}},
	}
	require.NoError(t, app.Run(append([]string{"reconciler", "run"}, args...)))
	return cfg, buildErr
}

func TestBuildConfig_Defaults(t *testing.T) {
	cfg, err := configFromArgs(t, "--contract", "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)

	assert.Equal(t, int64(8453), cfg.ChainID)
	assert.True(t, strings.EqualFold("0x00000000000000000000000000000000000000aa", cfg.ContractHex()))
	assert.Equal(t, indexer.DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, subscription.DefaultCadenceHours, cfg.DefaultCadence)
	assert.Equal(t, notify.DefaultBatchLimit, cfg.BatchLimit)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr())
	assert.Equal(t, time.Duration(0), cfg.IndexInterval)
	assert.False(t, cfg.ClickHouseArchive)
	assert.Equal(t, "localhost:6379", cfg.Store.Addr)
}

func TestBuildConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "bad contract", args: []string{"--contract", "0x1234"}, want: errInvalidContract},
		{name: "bad cadence", args: []string{"--default-cadence", "5"}, want: subscription.ErrInvalidCadence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := configFromArgs(t, tt.args...)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := configFromArgs(t, "--batch-limit", "-1")
	require.Error(t, err)
}

func TestParseStreams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     []string
		want    []checkpointer.Stream
		wantErr bool
	}{
		{name: "empty", raw: nil, want: nil},
		{name: "single", raw: []string{"weekly"}, want: []checkpointer.Stream{checkpointer.StreamWeekly}},
		{name: "comma separated", raw: []string{"alltime, weekly"}, want: []checkpointer.Stream{checkpointer.StreamAllTime, checkpointer.StreamWeekly}},
		{name: "all", raw: []string{"all"}, want: checkpointer.Streams},
		{name: "unknown", raw: []string{"daily"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseStreams(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, checkpointer.ErrUnknownStream)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResetState(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := newTestStores(t)
	log := zap.NewNop().Sugar()

	_, err := st.checkpoints.Write(ctx, checkpointer.StreamAllTime, 100)
	require.NoError(t, err)
	_, err = st.checkpoints.Write(ctx, checkpointer.StreamWeekly, 200)
	require.NoError(t, err)
	_, err = st.rankings.EnsureEpoch(ctx, epoch)
	require.NoError(t, err)

	require.Error(t, resetState(ctx, st, nil, false, false, log))

	require.NoError(t, resetState(ctx, st, []checkpointer.Stream{checkpointer.StreamWeekly}, true, false, log))

	_, ok, err := st.checkpoints.Read(ctx, checkpointer.StreamWeekly)
	require.NoError(t, err)
	assert.False(t, ok)
	last, ok, err := st.checkpoints.Read(ctx, checkpointer.StreamAllTime)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), last)
	_, ok, err = st.rankings.Epoch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetState_Snapshots(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := newTestStores(t)

	now := time.Unix(epoch+2*season.WindowSeconds+10, 0)
	_, err := st.rankings.EnsureEpoch(ctx, epoch)
	require.NoError(t, err)
	fin := finalizer.New(st.rankings, st.snapshots, finalizer.Config{ChainID: 8453}, zap.NewNop().Sugar(),
		finalizer.WithClock(func() time.Time { return now }))
	res, err := fin.FinalizeCompletedWindows(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, res.SnappedWindowIndices)

	require.NoError(t, resetState(ctx, st, nil, false, true, zap.NewNop().Sugar()))

	last, err := st.snapshots.LastSnapshotted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), last)
	_, ok, err := st.snapshots.Get(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrintSeason(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := newTestStores(t)

	var out bytes.Buffer
	require.NoError(t, printSeason(ctx, &out, st, time.Unix(epoch, 0)))
	assert.Contains(t, out.String(), "not anchored")

	_, err := st.rankings.EnsureEpoch(ctx, epoch)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, printSeason(ctx, &out, st, time.Unix(epoch+season.WindowSeconds+3600, 0)))
	s := out.String()
	assert.Contains(t, s, "window:            1\n")
	assert.Contains(t, s, "time left:         6 days 23 hours\n")
	assert.Contains(t, s, "last snapshotted:  none\n")
	assert.Contains(t, s, "ends:              2023-11-28T22:13:20Z\n")
}

type fakeIndexer struct {
	err   error
	calls int
}

func (f *fakeIndexer) Index(context.Context, checkpointer.Stream, uint64) (*indexer.Result, error) {
	f.calls++
	return &indexer.Result{}, f.err
}

func (f *fakeIndexer) IndexAll(context.Context, uint64) ([]*indexer.Result, error) {
	f.calls++
	return nil, f.err
}

type fakeFinalizer struct {
	err   error
	calls int
}

func (f *fakeFinalizer) FinalizeCompletedWindows(context.Context) (*finalizer.Result, error) {
	f.calls++
	return &finalizer.Result{}, f.err
}

func TestIndexJob(t *testing.T) {
	t.Parallel()

	ix := &fakeIndexer{err: ledger.ErrUnavailable}
	fin := &fakeFinalizer{}
	err := indexJob(ix, fin, 100)(t.Context())
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Equal(t, 1, ix.calls)
	assert.Equal(t, 1, fin.calls, "finalizer runs even when indexing fails")

	ix.err = nil
	fin.err = snapshot.ErrOutOfOrder
	err = indexJob(ix, fin, 100)(t.Context())
	require.ErrorIs(t, err, snapshot.ErrOutOfOrder)
	assert.NotErrorIs(t, err, ledger.ErrUnavailable)

	fin.err = nil
	require.NoError(t, indexJob(ix, fin, 100)(t.Context()))
}

type fakeDispatcher struct {
	now   int64
	limit int64
	err   error
}

func (f *fakeDispatcher) DispatchDue(_ context.Context, now int64, limit int64) (*notify.Result, error) {
	f.now, f.limit = now, limit
	if f.err != nil {
		return nil, f.err
	}
	return &notify.Result{Due: 2, Sent: 2}, nil
}

func (f *fakeDispatcher) SendTest(context.Context, string) (*notify.TestResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeDispatcher) Reschedule(context.Context, int, string, int64) (*notify.RescheduleResult, error) {
	return nil, errors.New("not used")
}

func TestDispatchJob(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	now := func() time.Time { return time.Unix(epoch, 0) }
	require.NoError(t, dispatchJob(d, 50, now, zap.NewNop().Sugar())(t.Context()))
	assert.Equal(t, epoch, d.now)
	assert.Equal(t, int64(50), d.limit)

	d.err = errors.New("redis down")
	require.EqualError(t, dispatchJob(d, 50, now, zap.NewNop().Sugar())(t.Context()), "redis down")
}
