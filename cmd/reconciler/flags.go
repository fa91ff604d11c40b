package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/0xmdrakib/2048TX/internal/api"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/indexer"
	"github.com/0xmdrakib/2048TX/pkg/notify"
)

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
		EnvVars: []string{"VERBOSE"},
	}
}

// ledgerFlags configure the score contract reader and the indexer.
func ledgerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Aliases: []string{"r"},
			Usage:   "The JSON-RPC URL of the chain carrying the score contract",
			EnvVars: []string{"BASE_RPC_URL", "RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "contract",
			Aliases: []string{"c"},
			Usage:   "The score contract address",
			EnvVars: []string{"SCORE_CONTRACT_ADDRESS"},
		},
		&cli.Int64Flag{
			Name:    "chain-id",
			Usage:   "The chain ID stamped onto snapshots and responses",
			EnvVars: []string{"CHAIN_ID"},
			Value:   8453,
		},
		&cli.Uint64Flag{
			Name:    "deploy-block",
			Usage:   "The height the all-time stream starts from on first activation (0 starts at head)",
			EnvVars: []string{"SCORE_CONTRACT_DEPLOY_BLOCK"},
		},
		&cli.Uint64Flag{
			Name:    "chunk-size",
			Usage:   "The number of blocks fetched per eth_getLogs call",
			EnvVars: []string{"INDEX_CHUNK_SIZE"},
			Value:   indexer.DefaultChunkSize,
		},
		&cli.IntFlag{
			Name:    "timestamp-concurrency",
			Usage:   "The maximum number of parallel block header lookups",
			EnvVars: []string{"TIMESTAMP_CONCURRENCY"},
			Value:   indexer.DefaultTimestampConcurrency,
		},
		&cli.DurationFlag{
			Name:    "rpc-timeout",
			Usage:   "The timeout of a single RPC call",
			EnvVars: []string{"RPC_TIMEOUT"},
			Value:   15 * time.Second,
		},
	}
}

// archiveFlags enable the optional snapshot sinks. Their connection
// settings come from the CLICKHOUSE_* and KAFKA_* environment.
func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "clickhouse-archive",
			Usage:   "Archive every closed window to ClickHouse",
			EnvVars: []string{"CLICKHOUSE_ARCHIVE_ENABLED"},
		},
		&cli.BoolFlag{
			Name:    "kafka-archive",
			Usage:   "Publish every closed window to Kafka (requires KAFKA_BOOTSTRAP_SERVERS)",
			EnvVars: []string{"KAFKA_ARCHIVE_ENABLED"},
		},
	}
}

func notifyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "default-cadence",
			Usage:   "The cadence in hours (1, 6 or 12) applied to records without one",
			EnvVars: []string{"NOTIF_CADENCE_HOURS"},
			Value:   subscription.DefaultCadenceHours,
		},
		&cli.StringFlag{
			Name:    "app-url",
			Usage:   "The target URL opened by reminders",
			EnvVars: []string{"APP_URL"},
			Value:   notify.DefaultTargetURL,
		},
		&cli.StringFlag{
			Name:    "notify-title",
			Usage:   "The reminder title",
			EnvVars: []string{"NOTIFY_TITLE"},
			Value:   notify.DefaultTitle,
		},
		&cli.StringFlag{
			Name:    "notify-body",
			Usage:   "The reminder body",
			EnvVars: []string{"NOTIFY_BODY"},
			Value:   notify.DefaultBody,
		},
		&cli.DurationFlag{
			Name:    "gateway-timeout",
			Usage:   "The timeout of one push gateway request",
			EnvVars: []string{"NOTIFY_GATEWAY_TIMEOUT"},
			Value:   notify.DefaultGatewayTimeout,
		},
		&cli.IntFlag{
			Name:    "batch-limit",
			Usage:   "The maximum number of due subscriptions handled per dispatch",
			EnvVars: []string{"NOTIFY_BATCH_LIMIT"},
			Value:   notify.DefaultBatchLimit,
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}

// serveFlags configure the HTTP surface and the periodic schedulers of run.
func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "http-addr",
			Usage:   "Listen address of the HTTP trigger surface",
			EnvVars: []string{"HTTP_ADDR"},
			Value:   ":8080",
		},
		&cli.StringFlag{
			Name:    "cron-secret",
			Usage:   "Bearer secret guarding the cron and admin routes",
			EnvVars: []string{"CRON_SECRET"},
		},
		&cli.Uint64Flag{
			Name:    "refresh-max-blocks",
			Usage:   "Block cap of a public leaderboard refresh",
			EnvVars: []string{"REFRESH_MAX_BLOCKS"},
			Value:   api.DefaultRefreshMaxBlocks,
		},
		&cli.DurationFlag{
			Name:    "refresh-interval",
			Usage:   "Minimum interval between public leaderboard refreshes",
			EnvVars: []string{"REFRESH_INTERVAL"},
			Value:   api.DefaultRefreshInterval,
		},
		&cli.DurationFlag{
			Name:    "index-interval",
			Usage:   "Interval of the index and finalize job (0 disables it; rely on cron routes)",
			EnvVars: []string{"INDEX_INTERVAL"},
		},
		&cli.Uint64Flag{
			Name:    "index-max-blocks",
			Usage:   "Block cap per stream of one scheduled index run (0 for no cap)",
			EnvVars: []string{"INDEX_MAX_BLOCKS"},
		},
		&cli.DurationFlag{
			Name:    "dispatch-interval",
			Usage:   "Interval of the dispatch job (0 disables it; rely on cron routes)",
			EnvVars: []string{"DISPATCH_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "max-consecutive-failures",
			Usage:   "Stop the daemon after this many failed job ticks in a row (0 never stops)",
			EnvVars: []string{"MAX_CONSECUTIVE_FAILURES"},
		},
	}
}

func flagSet(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
