package checkpointer

import (
	"context"
	"errors"
	"fmt"
)

// Stream names an independently resumable ranking stream. Each stream owns
// exactly one watermark.
type Stream string

const (
	// StreamAllTime feeds the all-time ranking.
	StreamAllTime Stream = "alltime"
	// StreamWeekly feeds the per-window (weekly season) rankings.
	StreamWeekly Stream = "weekly"
)

// Streams lists every known stream in the order they are indexed.
var Streams = []Stream{StreamAllTime, StreamWeekly}

var ErrUnknownStream = errors.New("unknown stream")

// ParseStream converts a stream name to a Stream.
func ParseStream(s string) (Stream, error) {
	for _, st := range Streams {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, s)
}

// Checkpointer abstracts watermark persistence. A watermark is the last
// block height whose events are durably applied to a stream's rankings and
// is used to resume indexing after restarts or failures without gaps.
type Checkpointer interface {
	// Read retrieves the watermark for a stream. If no watermark exists,
	// exists is false and lastProcessed is 0.
	Read(ctx context.Context, stream Stream) (lastProcessed uint64, exists bool, err error)

	// Write advances the watermark to lastProcessed unless the stored value is
	// already greater or equal. Watermarks never move backwards. It returns
	// the value stored after the call.
	Write(ctx context.Context, stream Stream, lastProcessed uint64) (uint64, error)

	// Delete removes the watermarks of the given streams. Used for
	// out-of-band resets only.
	Delete(ctx context.Context, streams ...Stream) error
}
