package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ava-labs/libevm/accounts/abi"
	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/core/types"
)

// scoreABI declares the only event the reconciler consumes:
// ScoreSubmitted(address indexed player, uint32 score, uint32 bestScore, uint64 submissionIndex).
const scoreABI = `[{
	"type": "event",
	"name": "ScoreSubmitted",
	"anonymous": false,
	"inputs": [
		{"name": "player", "type": "address", "indexed": true},
		{"name": "score", "type": "uint32", "indexed": false},
		{"name": "bestScore", "type": "uint32", "indexed": false},
		{"name": "submissionIndex", "type": "uint64", "indexed": false}
	]
}]`

const scoreEventName = "ScoreSubmitted"

var ErrDecode = errors.New("failed to decode ScoreSubmitted log")

var scoreEvent = mustEvent()

func mustEvent() abi.Event {
	parsed, err := abi.JSON(strings.NewReader(scoreABI))
	if err != nil {
		panic(fmt.Sprintf("invalid ScoreSubmitted abi: %v", err))
	}
	return parsed.Events[scoreEventName]
}

// ScoreSubmittedTopic is topic0 of every ScoreSubmitted log.
func ScoreSubmittedTopic() common.Hash {
	return scoreEvent.ID
}

// Event is one decoded ScoreSubmitted log.
type Event struct {
	Subject         string `json:"player"`
	Score           uint32 `json:"score"`
	BestScore       uint32 `json:"bestScore"`
	SubmissionIndex uint64 `json:"submissionIndex"`
	BlockHeight     uint64 `json:"blockNumber"`
	TxHash          string `json:"txHash"`
	LogIndex        uint   `json:"logIndex"`
}

// IsScoreSubmitted reports whether l carries a ScoreSubmitted event.
func IsScoreSubmitted(l *types.Log) bool {
	return len(l.Topics) > 0 && l.Topics[0] == scoreEvent.ID
}

// DecodeEvent decodes a ScoreSubmitted log. The subject is the lowercase
// hex address of the indexed player.
func DecodeEvent(l *types.Log) (Event, error) {
	if !IsScoreSubmitted(l) {
		return Event{}, fmt.Errorf("%w: unexpected topic0", ErrDecode)
	}
	if len(l.Topics) < 2 {
		return Event{}, fmt.Errorf("%w: missing player topic", ErrDecode)
	}

	vals, err := scoreEvent.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(vals) != 3 {
		return Event{}, fmt.Errorf("%w: got %d values", ErrDecode, len(vals))
	}
	score, ok1 := vals[0].(uint32)
	best, ok2 := vals[1].(uint32)
	idx, ok3 := vals[2].(uint64)
	if !ok1 || !ok2 || !ok3 {
		return Event{}, fmt.Errorf("%w: unexpected value types", ErrDecode)
	}

	return Event{
		Subject:         strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		Score:           score,
		BestScore:       best,
		SubmissionIndex: idx,
		BlockHeight:     l.BlockNumber,
		TxHash:          l.TxHash.Hex(),
		LogIndex:        l.Index,
	}, nil
}

// EncodeEventData packs the non-indexed fields of a ScoreSubmitted event.
// Used to build logs in tests and local fixtures.
func EncodeEventData(score, best uint32, submissionIndex uint64) ([]byte, error) {
	return scoreEvent.Inputs.NonIndexed().Pack(score, best, submissionIndex)
}
