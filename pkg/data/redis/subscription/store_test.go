package subscription

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmdrakib/2048TX/pkg/store/testutils"
)

const now int64 = 1_750_000_000

func newStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	c, srv := testutils.NewTestClient(t)
	s, err := NewStore(c.Redis(), 6)
	require.NoError(t, err)
	return s, srv
}

func TestNewStore_InvalidCadence(t *testing.T) {
	t.Parallel()
	c, _ := testutils.NewTestClient(t)
	_, err := NewStore(c.Redis(), 3)
	require.ErrorIs(t, err, ErrInvalidCadence)
}

func TestStore_UpsertSchedulesOneCadenceAhead(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	sub, err := s.Upsert(ctx, 42, 9152, "https://push.example/send", "tok-1", now)
	require.NoError(t, err)
	assert.Equal(t, 6, sub.CadenceHours)
	assert.Equal(t, now+6*3600, sub.NextSendAt)
	assert.Equal(t, now, sub.CreatedAt)

	score, err := srv.ZScore(KeyDue, "42:9152")
	require.NoError(t, err)
	assert.Equal(t, float64(now+6*3600), score)

	// Re-adding keeps the original creation time and replaces the token.
	sub, err = s.Upsert(ctx, 42, 9152, "https://push.example/send", "tok-2", now+100)
	require.NoError(t, err)
	assert.Equal(t, now, sub.CreatedAt)

	got, ok, err := s.Get(ctx, 42, 9152)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-2", got.Token)
	assert.Equal(t, now+100+6*3600, got.NextSendAt)
}

func TestStore_GetNormalizesCadence(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)

	require.NoError(t, srv.Set(RecordKey(1, 2), `{"fid":1,"appFid":2,"url":"https://u","token":"t","cadenceHours":24,"nextSendAt":5}`))

	got, ok, err := s.Get(t.Context(), 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, got.CadenceHours)
	assert.Nil(t, got.LastSentAt)
}

func TestStore_GetCorrupt(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)

	require.NoError(t, srv.Set(RecordKey(1, 2), `not json`))
	_, _, err := s.Get(t.Context(), 1, 2)
	require.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, srv.Set(RecordKey(3, 4), `{"fid":3,"appFid":4,"cadenceHours":6}`))
	_, _, err = s.Get(t.Context(), 3, 4)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestStore_SaveAndDeleteKeepIndexInSync(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	sub, err := s.Upsert(ctx, 7, 1, "https://u", "t", now)
	require.NoError(t, err)

	sub.NextSendAt = now + 600
	sub.InvalidStreak = 1
	require.NoError(t, s.Save(ctx, sub))

	score, err := srv.ZScore(KeyDue, sub.Member())
	require.NoError(t, err)
	assert.Equal(t, float64(now+600), score)

	require.NoError(t, s.Delete(ctx, 7, 1))
	assert.False(t, srv.Exists(RecordKey(7, 1)))
	members, err := s.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestStore_DueMembers(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	for i := int64(0); i < 5; i++ {
		_, err := srv.ZAdd(KeyDue, float64(now-100+i*50), Member(i, 1))
		require.NoError(t, err)
	}

	due, err := s.DueMembers(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"0:1", "1:1", "2:1"}, due)

	due, err = s.DueMembers(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0:1", "1:1"}, due)

	n, err := s.CountDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	soonest, ok, err := s.Soonest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DueEntry{Member: "0:1", NextSendAt: now - 100}, *soonest)

	require.NoError(t, s.PruneMember(ctx, "0:1"))
	due, err = s.DueMembers(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:1", "2:1"}, due)
}

func TestStore_DueMembersIncludesNegativeScores(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	_, err := srv.ZAdd(KeyDue, -5, Member(1, 1))
	require.NoError(t, err)
	_, err = srv.ZAdd(KeyDue, float64(now), Member(2, 1))
	require.NoError(t, err)

	due, err := s.DueMembers(ctx, now, 10)
	require.NoError(t, err)
	n, err := s.CountDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:1", "2:1"}, due)
	assert.Equal(t, int64(len(due)), n)
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		action     Action
		wantRecord bool
		wantScore  float64
	}{
		{name: "save", action: ActionSave, wantRecord: true, wantScore: float64(now + 900)},
		{name: "skip", action: ActionSkip, wantRecord: true, wantScore: float64(now + 6*3600)},
		{name: "delete", action: ActionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, srv := newStore(t)
			ctx := t.Context()
			_, err := s.Upsert(ctx, 7, 1, "https://u", "t", now)
			require.NoError(t, err)

			found, err := s.Update(ctx, 7, 1, func(sub *Subscription) Action {
				sub.NextSendAt = now + 900
				sub.InvalidStreak = 2
				return tt.action
			})
			require.NoError(t, err)
			assert.True(t, found)

			assert.Equal(t, tt.wantRecord, srv.Exists(RecordKey(7, 1)))
			if !tt.wantRecord {
				members, err := s.Members(ctx)
				require.NoError(t, err)
				assert.Empty(t, members)
				return
			}
			score, err := srv.ZScore(KeyDue, Member(7, 1))
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestStore_UpdateNeverRecreatesRemovedRecord(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	calls := 0
	found, err := s.Update(ctx, 7, 1, func(*Subscription) Action {
		calls++
		return ActionSave
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, calls)
	assert.False(t, srv.Exists(RecordKey(7, 1)))
	members, err := s.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestStore_UpdateRetriesOnConcurrentWrite(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := t.Context()
	_, err := s.Upsert(ctx, 7, 1, "https://u", "t", now)
	require.NoError(t, err)

	// Two writers increment the streak from the same starting value; the
	// first attempt loses and runs again on the fresh record.
	var seen []int
	found, err := s.Update(ctx, 7, 1, func(sub *Subscription) Action {
		seen = append(seen, sub.InvalidStreak)
		if len(seen) == 1 {
			concurrent := *sub
			concurrent.InvalidStreak++
			require.NoError(t, s.Save(ctx, &concurrent))
		}
		sub.InvalidStreak++
		return ActionSave
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int{0, 1}, seen)

	sub, ok, err := s.Get(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, sub.InvalidStreak)
}

func TestStore_UpdateCorrupt(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	require.NoError(t, srv.Set(RecordKey(3, 4), "{not json"))

	found, err := s.Update(t.Context(), 3, 4, func(*Subscription) Action { return ActionSave })
	require.ErrorIs(t, err, ErrCorruptRecord)
	assert.False(t, found)
}

func TestStore_SoonestEmpty(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	_, ok, err := s.Soonest(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_EventsAreBounded(t *testing.T) {
	t.Parallel()
	s, srv := newStore(t)
	ctx := t.Context()

	for i := 0; i < MaxEvents+25; i++ {
		require.NoError(t, s.LogEvent(ctx, Event{TS: now + int64(i), Event: fmt.Sprintf("e%d", i), FID: 1, AppFID: 2}))
	}

	all, err := srv.List(KeyEvents)
	require.NoError(t, err)
	assert.Len(t, all, MaxEvents)

	latest, err := s.Events(ctx, 50)
	require.NoError(t, err)
	require.Len(t, latest, 50)
	assert.Equal(t, fmt.Sprintf("e%d", MaxEvents+24), latest[0].Event)
	assert.NotContains(t, all[0], "token")
}

func TestParseMember(t *testing.T) {
	t.Parallel()
	fid, app, err := ParseMember("42:9152")
	require.NoError(t, err)
	assert.Equal(t, int64(42), fid)
	assert.Equal(t, int64(9152), app)

	for _, bad := range []string{"", "42", "x:1", "1:y", "1:2:3"} {
		_, _, err := ParseMember(bad)
		require.ErrorIs(t, err, ErrInvalidMember, bad)
	}
}

func TestParseCadence(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]int{"1": 1, " 6 ": 6, "12": 12} {
		got, err := ParseCadence(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "0", "24", "six"} {
		_, err := ParseCadence(bad)
		require.ErrorIs(t, err, ErrInvalidCadence, bad)
	}
}
