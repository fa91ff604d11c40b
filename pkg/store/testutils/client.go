package testutils

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/store"
)

// NewTestClient starts an in-process miniredis server bound to t's lifetime
// and returns a store.Client connected to it. The server is returned so
// tests can inspect keys or move the server clock.
func NewTestClient(t testing.TB) (store.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewWithClient(rdb, zap.NewNop().Sugar()), srv
}
