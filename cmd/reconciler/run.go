package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/0xmdrakib/2048TX/internal/api"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
	"github.com/0xmdrakib/2048TX/pkg/scheduler"
	"github.com/0xmdrakib/2048TX/pkg/utils"
)

const (
	flushTimeoutOnClose = 15 * time.Second
	shutdownTimeout     = 5 * time.Second
)

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"chainID", cfg.ChainID,
		"contract", cfg.ContractHex(),
		"deployHeight", cfg.DeployHeight,
		"chunkSize", cfg.ChunkSize,
		"httpAddr", cfg.HTTPAddr,
		"cronSecretSet", cfg.CronSecret != "",
		"indexInterval", cfg.IndexInterval,
		"indexMaxBlocks", cfg.IndexMaxBlocks,
		"dispatchInterval", cfg.DispatchInterval,
		"batchLimit", cfg.BatchLimit,
		"defaultCadence", cfg.DefaultCadence,
		"clickhouseArchive", cfg.ClickHouseArchive,
		"kafkaArchive", cfg.KafkaArchive,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		EVMChainID:    uint64(max(cfg.ChainID, 0)), //nolint:gosec // clamped to non-negative
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg, sugar)
	if err != nil {
		return err
	}
	defer st.Close()

	reader, err := dialLedger(ctx, cfg, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create ledger reader: %w", err)
	}
	defer reader.Close()

	ix, err := newIndexer(st, reader, cfg, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	archives, err := openSinks(ctx, cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archives: %w", err)
	}
	defer archives.Close()

	fin := newFinalizer(st, archives.archivers, cfg, sugar, m)
	disp := newDispatcher(st, cfg, sugar, m)

	apiServer, err := api.NewServer(cfg.HTTPAddr, api.Deps{
		Redis:         st.client.Redis(),
		Rankings:      st.rankings,
		Snapshots:     st.snapshots,
		Checkpoints:   st.checkpoints,
		Subscriptions: st.subscriptions,
		Indexer:       ix,
		Finalizer:     fin,
		Dispatcher:    disp,
		Receipts:      reader,
	}, api.Config{
		CronSecret:         cfg.CronSecret,
		ChainID:            cfg.ChainID,
		Contract:           cfg.ContractHex(),
		RefreshMaxBlocks:   cfg.RefreshMaxBlocks,
		RefreshInterval:    cfg.RefreshInterval,
		DispatchBatchLimit: int64(cfg.BatchLimit),
	}, sugar, api.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	// Start metrics server
	healthChecks := []metrics.ServerOption{metrics.WithHealthCheck("redis", st.client.Ping)}
	for name, check := range archives.checks {
		healthChecks = append(healthChecks, metrics.WithHealthCheck(name, check))
	}
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, healthChecks...)
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	apiErrCh := apiServer.Start()
	sugar.Infof("api server listening on %s", cfg.HTTPAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return waitServer(gctx, "metrics", metricsErrCh)
	})
	g.Go(func() error {
		return waitServer(gctx, "api", apiErrCh)
	})
	if archives.errs != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-archives.errs:
				if !ok {
					return nil
				}
				return fmt.Errorf("kafka publisher failed: %w", err)
			}
		})
	}
	if cfg.IndexInterval > 0 {
		g.Go(func() error {
			return scheduler.Start(gctx, scheduler.Config{
				Name:                   "index",
				Interval:               cfg.IndexInterval,
				MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
				RunOnStart:             true,
			}, indexJob(ix, fin, cfg.IndexMaxBlocks), sugar, m)
		})
	}
	if cfg.DispatchInterval > 0 {
		g.Go(func() error {
			return scheduler.Start(gctx, scheduler.Config{
				Name:                   "dispatch",
				Interval:               cfg.DispatchInterval,
				MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			}, dispatchJob(disp, cfg.BatchLimit, time.Now, sugar), sugar, m)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("run failed", "error", err)
	}

	// Gracefully shutdown the servers
	sugar.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := apiServer.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("api server shutdown error", "error", serr)
	}
	if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("metrics server shutdown error", "error", serr)
	}

	sugar.Info("shutdown complete")
	return err
}

// waitServer returns when ctx ends or the server stops with an error.
func waitServer(ctx context.Context, name string, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s server failed: %w", name, err)
		}
		return nil
	}
}
