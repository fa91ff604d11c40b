package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg Msg) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockPublisher) Close(ctx context.Context) {
	m.Called(ctx)
}

func TestSnapshotArchiver_Publishes(t *testing.T) {
	t.Parallel()
	start := time.Unix(1_700_000_000, 0).UTC()
	rec := snapshot.Record{
		WindowIndex: 7,
		CreatedAt:   start.Add(8 * 24 * time.Hour),
		WindowStart: start,
		WindowEnd:   start.Add(7 * 24 * time.Hour),
		ChainID:     8453,
		Top:         []ranking.Entry{{Subject: "0xaaa", Score: 2048}},
	}

	var got Msg
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.AnythingOfType("queue.Msg")).
		Run(func(args mock.Arguments) { got = args.Get(1).(Msg) }).
		Return(nil).Once()

	a := NewSnapshotArchiver(pub, "")
	assert.Equal(t, SnapshotSinkName, a.Name())
	require.NoError(t, a.Archive(t.Context(), rec))
	pub.AssertExpectations(t)

	assert.Equal(t, DefaultSnapshotTopic, got.Topic)
	assert.Equal(t, []byte("7"), got.Key)
	assert.Equal(t, "8453", got.Headers["chain-id"])

	var decoded snapshot.Stored
	require.NoError(t, json.Unmarshal(got.Value, &decoded))
	assert.Equal(t, snapshot.RecordKey(7), decoded.Key)
	assert.Equal(t, rec, decoded.Record)
}

func TestSnapshotArchiver_PropagatesPublishError(t *testing.T) {
	t.Parallel()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker not available"))

	err := NewSnapshotArchiver(pub, "weekly").Archive(t.Context(), snapshot.Record{WindowIndex: 1})
	require.ErrorContains(t, err, "broker not available")
}
