// Package api serves the trigger, read and admin HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/checkpoint"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/finalizer"
	"github.com/0xmdrakib/2048TX/pkg/indexer"
	"github.com/0xmdrakib/2048TX/pkg/ledger"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/notify"
)

const (
	DefaultRefreshMaxBlocks uint64 = 4000
	DefaultRefreshInterval         = 20 * time.Second
	DefaultLeaderboardSize  int64  = 100

	defaultSnapshotListLimit int64 = 12
	maxSnapshotListLimit     int64 = 52
	adminEventsLimit         int64 = 50
)

var ErrMissingDependency = errors.New("api dependency is required")

// Indexer advances the ranking streams.
type Indexer interface {
	Index(ctx context.Context, stream checkpointer.Stream, maxBlocks uint64) (*indexer.Result, error)
	IndexAll(ctx context.Context, maxBlocks uint64) ([]*indexer.Result, error)
}

// Finalizer snapshots closed windows.
type Finalizer interface {
	FinalizeCompletedWindows(ctx context.Context) (*finalizer.Result, error)
}

// Dispatcher delivers reminders.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now int64, limit int64) (*notify.Result, error)
	SendTest(ctx context.Context, member string) (*notify.TestResult, error)
	Reschedule(ctx context.Context, hours int, member string, now int64) (*notify.RescheduleResult, error)
}

// ReceiptReader looks up mined score submissions.
type ReceiptReader interface {
	Receipt(ctx context.Context, hash common.Hash) (*ledger.Receipt, bool, error)
}

// Deps are the components the surface drives. All are required.
type Deps struct {
	Redis         redis.UniversalClient
	Rankings      ranking.Repository
	Snapshots     snapshot.Repository
	Checkpoints   checkpoint.Repository
	Subscriptions subscription.Store
	Indexer       Indexer
	Finalizer     Finalizer
	Dispatcher    Dispatcher
	Receipts      ReceiptReader
}

func (d Deps) validate() error {
	checks := []struct {
		name    string
		missing bool
	}{
		{"redis", d.Redis == nil},
		{"rankings", d.Rankings == nil},
		{"snapshots", d.Snapshots == nil},
		{"checkpoints", d.Checkpoints == nil},
		{"subscriptions", d.Subscriptions == nil},
		{"indexer", d.Indexer == nil},
		{"finalizer", d.Finalizer == nil},
		{"dispatcher", d.Dispatcher == nil},
		{"receipts", d.Receipts == nil},
	}
	for _, c := range checks {
		if c.missing {
			return fmt.Errorf("%w: %s", ErrMissingDependency, c.name)
		}
	}
	return nil
}

// Config holds surface settings.
type Config struct {
	// CronSecret guards the cron and admin routes. Cron routes are open
	// when it is empty; admin routes are then closed.
	CronSecret string
	ChainID    int64
	Contract   string

	RefreshMaxBlocks uint64
	RefreshInterval  time.Duration
	LeaderboardSize  int64
	// DispatchBatchLimit is used when a dispatch request names no limit.
	DispatchBatchLimit int64
}

func (c *Config) setDefaults() {
	if c.RefreshMaxBlocks == 0 {
		c.RefreshMaxBlocks = DefaultRefreshMaxBlocks
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = DefaultLeaderboardSize
	}
	if c.DispatchBatchLimit <= 0 {
		c.DispatchBatchLimit = notify.DefaultBatchLimit
	}
}

// Server is the HTTP surface.
type Server struct {
	deps    Deps
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time

	httpServer *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics enables request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates the surface listening on addr.
func NewServer(addr string, deps Deps, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	s := &Server{
		deps: deps,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed surface with its middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.observe)

	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboard", s.leaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/weekly/rollover", s.rollover).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/submissions/{txHash}", s.submission).Methods(http.MethodGet)
	r.HandleFunc("/api/webhook", s.webhook).Methods(http.MethodPost)
	r.HandleFunc("/api/webhook", s.webhookProbe).Methods(http.MethodGet)

	cron := r.PathPrefix("/api/cron").Subrouter()
	cron.Use(s.cronAuth)
	cron.HandleFunc("/sync-leaderboard", s.cronIndex).Methods(http.MethodGet, http.MethodPost)
	cron.HandleFunc("/snapshot-weekly", s.cronFinalize).Methods(http.MethodGet, http.MethodPost)
	cron.HandleFunc("/notifications", s.cronDispatch).Methods(http.MethodGet, http.MethodPost)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.adminAuth)
	admin.HandleFunc("/notifs/status", s.adminStatus).Methods(http.MethodGet)
	admin.HandleFunc("/notifs/reschedule", s.adminReschedule).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/notifs/send-test", s.adminSendTest).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/notifs/events", s.adminEvents).Methods(http.MethodGet)
	admin.HandleFunc("/weekly-snapshots", s.adminSnapshots).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
	)(handlers.CompressHandler(r))
}

// Start begins serving. This is non-blocking.
// Returns a channel that receives an error if the server fails.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server, waiting for active requests to
// complete or until the context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Redis.Ping(r.Context()).Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"chainId":  s.cfg.ChainID,
		"contract": nullable(s.cfg.Contract),
	})
}
