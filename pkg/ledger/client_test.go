package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ava-labs/libevm"
	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/0xmdrakib/2048TX/pkg/metrics"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000020aa")
	player   = common.HexToAddress("0xABCDEF0000000000000000000000000000000001")
)

type mockEth struct {
	mock.Mock
}

func (m *mockEth) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockEth) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	logs, _ := args.Get(0).([]types.Log)
	return logs, args.Error(1)
}

func (m *mockEth) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	h, _ := args.Get(0).(*types.Header)
	return h, args.Error(1)
}

func (m *mockEth) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	r, _ := args.Get(0).(*types.Receipt)
	return r, args.Error(1)
}

func scoreLog(t *testing.T, addr common.Address, who common.Address, score, best uint32, idx uint64, block uint64) types.Log {
	t.Helper()
	data, err := EncodeEventData(score, best, idx)
	require.NoError(t, err)
	return types.Log{
		Address:     addr,
		Topics:      []common.Hash{ScoreSubmittedTopic(), common.BytesToHash(who.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x01"),
		Index:       uint(idx),
	}
}

func TestNew_RequiresContract(t *testing.T) {
	t.Parallel()
	_, err := New(&mockEth{}, common.Address{})
	require.ErrorIs(t, err, ErrMissingContract)
}

func TestClient_Head(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}
	eth.On("BlockNumber", mock.Anything).Return(uint64(12345), nil).Once()
	eth.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("503")).Once()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	c, err := New(eth, contract, WithMetrics(m))
	require.NoError(t, err)

	head, err := c.Head(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), head)

	_, err = c.Head(t.Context())
	require.ErrorIs(t, err, ErrUnavailable)
	eth.AssertExpectations(t)
}

func TestClient_LogsFiltersAndDecodes(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}

	removed := scoreLog(t, contract, player, 1, 1, 9, 101)
	removed.Removed = true
	garbage := scoreLog(t, contract, player, 1, 1, 8, 101)
	garbage.Data = []byte{0x01}

	eth.On("FilterLogs", mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock.Uint64() == 100 &&
			q.ToBlock.Uint64() == 199 &&
			len(q.Addresses) == 1 && q.Addresses[0] == contract &&
			len(q.Topics) == 1 && q.Topics[0][0] == ScoreSubmittedTopic()
	})).Return([]types.Log{
		scoreLog(t, contract, player, 300, 500, 1, 100),
		removed,
		garbage,
		scoreLog(t, contract, player, 700, 700, 2, 150),
	}, nil)

	c, err := New(eth, contract)
	require.NoError(t, err)

	events, err := c.Logs(t.Context(), 100, 199)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Event{
		Subject:         "0xabcdef0000000000000000000000000000000001",
		Score:           300,
		BestScore:       500,
		SubmissionIndex: 1,
		BlockHeight:     100,
		TxHash:          common.HexToHash("0x01").Hex(),
		LogIndex:        1,
	}, events[0])
	assert.Equal(t, uint32(700), events[1].Score)
}

func TestClient_LogsUnavailable(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}
	eth.On("FilterLogs", mock.Anything, mock.Anything).Return(nil, errors.New("query returned more than 10000 results"))

	c, err := New(eth, contract)
	require.NoError(t, err)

	_, err = c.Logs(t.Context(), 1, 2)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_CallTimeout(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}
	eth.On("HeaderByNumber", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	c, err := New(eth, contract, WithCallTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.BlockTimestamp(t.Context(), 10)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_BlockTimestamp(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}
	eth.On("HeaderByNumber", mock.Anything, big.NewInt(42)).Return(&types.Header{Time: 1_700_000_123}, nil)

	c, err := New(eth, contract)
	require.NoError(t, err)

	ts, err := c.BlockTimestamp(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_123), ts)
}

func TestClient_Receipt(t *testing.T) {
	t.Parallel()
	eth := &mockEth{}
	hash := common.HexToHash("0xfeed")
	own := scoreLog(t, contract, player, 64, 128, 3, 77)
	other := scoreLog(t, common.HexToAddress("0x99"), player, 1, 1, 1, 77)

	eth.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(77),
		Logs:        []*types.Log{&other, &own},
	}, nil)
	eth.On("TransactionReceipt", mock.Anything, common.HexToHash("0xbeef")).Return(nil, ethereum.NotFound)

	c, err := New(eth, contract)
	require.NoError(t, err)

	rcpt, ok, err := c.Receipt(t.Context(), hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rcpt.Status)
	assert.Equal(t, uint64(77), rcpt.BlockHeight)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, uint32(128), rcpt.Events[0].BestScore)

	_, ok, err = c.Receipt(t.Context(), common.HexToHash("0xbeef"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeEvent_Errors(t *testing.T) {
	t.Parallel()

	l := scoreLog(t, contract, player, 1, 2, 3, 4)
	l.Topics = l.Topics[:1]
	_, err := DecodeEvent(&l)
	require.ErrorIs(t, err, ErrDecode)

	l = scoreLog(t, contract, player, 1, 2, 3, 4)
	l.Topics[0] = common.HexToHash("0x1234")
	_, err = DecodeEvent(&l)
	require.ErrorIs(t, err, ErrDecode)
}
