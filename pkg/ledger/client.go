package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ava-labs/libevm"
	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/core/types"
	"github.com/ava-labs/libevm/ethclient"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/metrics"
)

const defaultCallTimeout = 15 * time.Second

var (
	// ErrUnavailable marks ledger failures that the next invocation retries.
	ErrUnavailable     = errors.New("ledger unavailable")
	ErrMissingContract = errors.New("score contract address is required")
	ErrMissingRPCURL   = errors.New("ledger rpc url is required")
)

// Receipt is the outcome of a mined score submission.
type Receipt struct {
	TxHash      string  `json:"txHash"`
	Status      uint64  `json:"status"`
	BlockHeight uint64  `json:"blockNumber"`
	Events      []Event `json:"events"`
}

// Reader is the read-only view of the ledger the reconciler needs.
type Reader interface {
	// Head returns the current chain height.
	Head(ctx context.Context) (uint64, error)
	// Logs returns the ScoreSubmitted events emitted by the score contract
	// in [from, to], in chain order.
	Logs(ctx context.Context, from, to uint64) ([]Event, error)
	// BlockTimestamp returns the unix timestamp of the block at height.
	BlockTimestamp(ctx context.Context, height uint64) (int64, error)
	// Receipt returns the receipt of a mined transaction. ok is false while
	// the transaction is unknown or pending.
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, bool, error)
}

// EthClient is the subset of *ethclient.Client used by Client.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client reads ScoreSubmitted events through an Ethereum JSON-RPC endpoint.
type Client struct {
	eth         EthClient
	closer      func()
	contract    common.Address
	callTimeout time.Duration
	metrics     *metrics.Metrics // nil if metrics disabled
	log         *zap.SugaredLogger
}

var _ Reader = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCallTimeout bounds every RPC call. Expiry surfaces as ErrUnavailable.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithLogger sets the logger used for skipped logs.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Dial connects to the RPC endpoint at url.
func Dial(ctx context.Context, url string, contract common.Address, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, ErrMissingRPCURL
	}
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	c, err := New(ec, contract, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// New wraps an existing client.
func New(eth EthClient, contract common.Address, opts ...Option) (*Client, error) {
	if contract == (common.Address{}) {
		return nil, ErrMissingContract
	}
	c := &Client{
		eth:         eth,
		contract:    contract,
		callTimeout: defaultCallTimeout,
		log:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Contract returns the score contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// call runs fn with the per-call deadline and records its outcome.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.metrics.IncRPCInFlight()
	defer c.metrics.DecRPCInFlight()

	start := time.Now()
	err := fn(ctx)
	c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	return err
}

func (c *Client) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %w", ErrUnavailable, err)
	}
	return head, nil
}

func (c *Client) Logs(ctx context.Context, from, to uint64) ([]Event, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{ScoreSubmittedTopic()}},
	}

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs [%d, %d]: %w", ErrUnavailable, from, to, err)
	}

	events := make([]Event, 0, len(logs))
	for i := range logs {
		l := &logs[i]
		if l.Removed {
			continue
		}
		ev, err := DecodeEvent(l)
		if err != nil {
			c.log.Warnw("skipping undecodable log",
				"block", l.BlockNumber,
				"tx", l.TxHash.Hex(),
				"index", l.Index,
				"error", err,
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) BlockTimestamp(ctx context.Context, height uint64) (int64, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: header %d: %w", ErrUnavailable, height, err)
	}
	return int64(header.Time), nil //nolint:gosec // block timestamps fit in int64
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, bool, error) {
	var rcpt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		rcpt, err = c.eth.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: receipt %s: %w", ErrUnavailable, hash.Hex(), err)
	}

	out := &Receipt{
		TxHash:      hash.Hex(),
		Status:      rcpt.Status,
		BlockHeight: rcpt.BlockNumber.Uint64(),
		Events:      []Event{},
	}
	for _, l := range rcpt.Logs {
		if l.Address != c.contract || !IsScoreSubmitted(l) {
			continue
		}
		ev, err := DecodeEvent(l)
		if err != nil {
			return nil, false, err
		}
		out.Events = append(out.Events, ev)
	}
	return out, true, nil
}

// Close closes the underlying RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}
