package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/clickhouse"
	chsnapshot "github.com/0xmdrakib/2048TX/pkg/data/clickhouse/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/checkpoint"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/finalizer"
	"github.com/0xmdrakib/2048TX/pkg/indexer"
	"github.com/0xmdrakib/2048TX/pkg/ledger"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/notify"
	"github.com/0xmdrakib/2048TX/pkg/queue"
	"github.com/0xmdrakib/2048TX/pkg/store"
)

// stores groups the Redis repositories shared by every command.
type stores struct {
	client        store.Client
	rankings      ranking.Repository
	snapshots     snapshot.Repository
	checkpoints   checkpoint.Repository
	subscriptions subscription.Store
	log           *zap.SugaredLogger
}

func openStores(cfg *Config, log *zap.SugaredLogger) (*stores, error) {
	client, err := store.New(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return newStores(client, cfg.DefaultCadence, log)
}

func newStores(client store.Client, defaultCadence int, log *zap.SugaredLogger) (*stores, error) {
	rdb := client.Redis()
	subs, err := subscription.NewStore(rdb, defaultCadence)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &stores{
		client:        client,
		rankings:      ranking.NewRepository(rdb),
		snapshots:     snapshot.NewRepository(rdb),
		checkpoints:   checkpoint.NewRepository(rdb),
		subscriptions: subs,
		log:           log,
	}, nil
}

func (s *stores) Close() {
	if err := s.client.Close(); err != nil {
		s.log.Warnw("failed to close redis client", "error", err)
	}
}

func dialLedger(ctx context.Context, cfg *Config, log *zap.SugaredLogger, m *metrics.Metrics) (*ledger.Client, error) {
	return ledger.Dial(ctx, cfg.RPCURL, cfg.Contract,
		ledger.WithMetrics(m),
		ledger.WithCallTimeout(cfg.RPCTimeout),
		ledger.WithLogger(log),
	)
}

func newIndexer(s *stores, reader ledger.Reader, cfg *Config, log *zap.SugaredLogger, m *metrics.Metrics) (*indexer.Indexer, error) {
	return indexer.New(s.client.Redis(), reader, s.checkpoints, s.rankings, indexer.Config{
		ChunkSize:            cfg.ChunkSize,
		TimestampConcurrency: cfg.TimestampConcurrency,
		DeployHeight:         cfg.DeployHeight,
	}, log, indexer.WithMetrics(m))
}

// sinks holds the optional snapshot archives and their connections.
type sinks struct {
	archivers []finalizer.Archiver
	closers   []func()
	// errs fires when the Kafka publisher fails fatally. Nil without Kafka.
	errs   <-chan error
	checks map[string]metrics.HealthCheck
	// clickhouse is the ClickHouse archive when enabled.
	clickhouse chsnapshot.Repository
}

func (k *sinks) Close() {
	for i := len(k.closers) - 1; i >= 0; i-- {
		k.closers[i]()
	}
}

// openSinks connects the archives enabled in cfg. The ClickHouse table is
// created when missing.
func openSinks(ctx context.Context, cfg *Config, log *zap.SugaredLogger) (*sinks, error) {
	k := &sinks{checks: map[string]metrics.HealthCheck{}}

	if cfg.ClickHouseArchive {
		chClient, err := clickhouse.New(cfg.ClickHouse, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		k.closers = append(k.closers, func() {
			if err := chClient.Close(); err != nil {
				log.Warnw("failed to close ClickHouse client", "error", err)
			}
		})
		repo := chsnapshot.NewRepository(chClient, cfg.ClickHouse.SnapshotTable)
		if err := repo.CreateTable(ctx); err != nil {
			k.Close()
			return nil, err
		}
		k.archivers = append(k.archivers, repo)
		k.clickhouse = repo
		k.checks["clickhouse"] = chClient.Ping
		log.Infow("clickhouse archive enabled", "table", cfg.ClickHouse.SnapshotTable)
	}

	if cfg.KafkaArchive {
		pub, err := queue.NewKafkaPublisher(ctx, cfg.Kafka.ConfigMap(), log)
		if err != nil {
			k.Close()
			return nil, err
		}
		k.closers = append(k.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), flushTimeoutOnClose)
			defer cancel()
			pub.Close(closeCtx)
		})
		k.errs = pub.Errors()
		k.archivers = append(k.archivers, queue.NewSnapshotArchiver(pub, cfg.Kafka.SnapshotTopic))
		log.Infow("kafka archive enabled", "topic", cfg.Kafka.SnapshotTopic)
	}
	return k, nil
}

func newFinalizer(s *stores, archivers []finalizer.Archiver, cfg *Config, log *zap.SugaredLogger, m *metrics.Metrics) *finalizer.Finalizer {
	return finalizer.New(s.rankings, s.snapshots, finalizer.Config{
		ChainID:  cfg.ChainID,
		Contract: cfg.ContractHex(),
	}, log, finalizer.WithArchivers(archivers...), finalizer.WithMetrics(m))
}

func newDispatcher(s *stores, cfg *Config, log *zap.SugaredLogger, m *metrics.Metrics) *notify.Dispatcher {
	gw := notify.NewHTTPGateway(&http.Client{}, cfg.GatewayTimeout)
	return notify.New(s.subscriptions, gw, notify.Config{
		Title:     cfg.NotifyTitle,
		Body:      cfg.NotifyBody,
		TargetURL: cfg.AppURL,
	}, log, notify.WithMetrics(m))
}
