package api

import (
	"context"
	_ "embed"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyLastPublicRefresh holds the unix ms of the last public refresh.
const KeyLastPublicRefresh = "lb:weekly:lastPublicSyncAt"

//go:embed queries/claim_refresh.lua
var claimRefreshScript string

var claimRefresh = redis.NewScript(claimRefreshScript)

// claimPublicRefresh reports whether this request may run a public refresh.
// At most one caller wins per interval across every replica.
func (s *Server) claimPublicRefresh(ctx context.Context, now time.Time) (bool, error) {
	n, err := claimRefresh.Run(ctx, s.deps.Redis,
		[]string{KeyLastPublicRefresh},
		now.UnixMilli(), s.cfg.RefreshInterval.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
