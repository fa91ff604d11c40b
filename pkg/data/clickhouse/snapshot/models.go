package snapshot

import (
	"time"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
)

// Row is one ranked entry of an archived window.
type Row struct {
	WindowIndex int64
	Rank        uint16
	Subject     string
	Score       int64
	WindowStart time.Time
	WindowEnd   time.Time
	ChainID     int64
	Contract    string
	CreatedAt   time.Time
}

// Rows flattens a snapshot record. Ranks start at 1 and follow the record's
// order.
func Rows(rec snapshot.Record) []Row {
	rows := make([]Row, 0, len(rec.Top))
	for i, e := range rec.Top {
		rows = append(rows, Row{
			WindowIndex: rec.WindowIndex,
			Rank:        uint16(i + 1), //nolint:gosec // snapshots hold at most a few hundred entries
			Subject:     e.Subject,
			Score:       e.Score,
			WindowStart: rec.WindowStart,
			WindowEnd:   rec.WindowEnd,
			ChainID:     rec.ChainID,
			Contract:    rec.Contract,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return rows
}
