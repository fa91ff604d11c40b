// Package season maps unix timestamps to fixed seven-day ranking windows
// counted from an epoch anchor. Everything here is pure.
package season

// WindowSeconds is the length of one ranking window.
const WindowSeconds int64 = 7 * 24 * 60 * 60

// Meta describes a window relative to a point in time.
type Meta struct {
	Index       int64 `json:"weekIndex"`
	Start       int64 `json:"weekStartsAt"`
	End         int64 `json:"weekEndsAt"`
	SecondsLeft int64 `json:"secondsLeft"`
}

// WindowIndex returns the window containing ts, or -1 when ts precedes the
// epoch.
func WindowIndex(epoch, ts int64) int64 {
	if ts < epoch {
		return -1
	}
	return (ts - epoch) / WindowSeconds
}

// WindowBounds returns the half-open interval [start, end) of window idx.
func WindowBounds(epoch, idx int64) (start, end int64) {
	start = epoch + idx*WindowSeconds
	return start, start + WindowSeconds
}

// CurrentWindowMeta returns the window containing now. A time before the
// epoch is reported as window 0.
func CurrentWindowMeta(epoch, now int64) Meta {
	idx := WindowIndex(epoch, now)
	if idx < 0 {
		idx = 0
	}
	start, end := WindowBounds(epoch, idx)
	return Meta{
		Index:       idx,
		Start:       start,
		End:         end,
		SecondsLeft: max(0, end-now),
	}
}
