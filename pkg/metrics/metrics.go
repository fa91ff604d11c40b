package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "reconciler"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Ledger   = "ledger"
	Indexer  = "indexer"
	Snapshot = "snapshot"
	Notify   = "notify"
	Jobs     = "jobs"
	HTTP     = "http"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple reconciler instances.
type Labels struct {
	EVMChainID    uint64 // EVM chain ID (e.g., 8453 for Base mainnet)
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.EVMChainID != 0 {
		labels["evm_chain_id"] = strconv.FormatUint(l.EVMChainID, 10)
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	errors *prometheus.CounterVec

	// Ledger RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Indexer metrics, by stream
	blocksIndexed   *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	watermark       *prometheus.GaugeVec
	chunkDuration   *prometheus.HistogramVec

	// Snapshot finalizer metrics
	snapshotsWritten    prometheus.Counter
	lastSnapshotted     prometheus.Gauge
	currentWindow       prometheus.Gauge
	archived            *prometheus.CounterVec // by sink, status
	snapshotConflicts   prometheus.Counter
	finalizerRunSeconds prometheus.Histogram

	// Notification dispatcher metrics
	deliveries      *prometheus.CounterVec // by outcome
	gatewayDuration prometheus.Histogram
	stalePruned     prometheus.Counter
	disabled        prometheus.Counter
	dueBatchSize    prometheus.Histogram

	// Periodic job metrics
	jobRuns     *prometheus.CounterVec   // by job, status
	jobDuration *prometheus.HistogramVec // by job

	// Trigger surface metrics
	httpRequests *prometheus.CounterVec // by route, code
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., evm_chain_id), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	latencyBuckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &Metrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Ledger,
			Name:      "calls_total",
			Help:      "Total ledger RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Ledger,
			Name:      "duration_seconds",
			Help:      "Ledger RPC call duration in seconds",
			Buckets:   latencyBuckets,
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Ledger,
			Name:      "in_flight",
			Help:      "Number of ledger RPC calls currently in progress",
		}),
		blocksIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Indexer,
			Name:      "blocks_total",
			Help:      "Total blocks committed by stream",
		}, []string{"stream"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Indexer,
			Name:      "events_total",
			Help:      "Total score events applied to rankings by stream",
		}, []string{"stream"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Indexer,
			Name:      "watermark",
			Help:      "Last committed block height by stream",
		}, []string{"stream"}),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Indexer,
			Name:      "chunk_duration_seconds",
			Help:      "Time to fetch and commit one chunk by stream",
			Buckets:   latencyBuckets,
		}, []string{"stream"}),
		snapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "written_total",
			Help:      "Total window snapshots committed",
		}),
		lastSnapshotted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "last_window",
			Help:      "Index of the last fully snapshotted window",
		}),
		currentWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "current_window",
			Help:      "Index of the window containing now",
		}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "archived_total",
			Help:      "Total snapshot archive attempts by sink and status",
		}, []string{"sink", "status"}),
		snapshotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "conflicts_total",
			Help:      "Total commits abandoned because another invocation finished the window",
		}),
		finalizerRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Snapshot,
			Name:      "run_duration_seconds",
			Help:      "Time to run the finalizer once",
			Buckets:   latencyBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Notify,
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by outcome",
		}, []string{"outcome"}),
		gatewayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Notify,
			Name:      "gateway_duration_seconds",
			Help:      "Push gateway request duration in seconds",
			Buckets:   latencyBuckets,
		}),
		stalePruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Notify,
			Name:      "stale_pruned_total",
			Help:      "Total due-index entries pruned for lacking a record",
		}),
		disabled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Notify,
			Name:      "disabled_total",
			Help:      "Total subscriptions removed after repeated invalid tokens",
		}),
		dueBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Notify,
			Name:      "due_batch_size",
			Help:      "Number of due subscriptions read per dispatch",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "runs_total",
			Help:      "Total periodic job runs by job and status",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Jobs,
			Name:      "duration_seconds",
			Help:      "Periodic job run duration by job",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: HTTP,
			Name:      "requests_total",
			Help:      "Total trigger surface requests by route and status code",
		}, []string{"route", "code"}),
	}

	err := errors.Join(
		reg.Register(m.errors),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.blocksIndexed),
		reg.Register(m.eventsProcessed),
		reg.Register(m.watermark),
		reg.Register(m.chunkDuration),
		reg.Register(m.snapshotsWritten),
		reg.Register(m.lastSnapshotted),
		reg.Register(m.currentWindow),
		reg.Register(m.archived),
		reg.Register(m.snapshotConflicts),
		reg.Register(m.finalizerRunSeconds),
		reg.Register(m.deliveries),
		reg.Register(m.gatewayDuration),
		reg.Register(m.stalePruned),
		reg.Register(m.disabled),
		reg.Register(m.dueBatchSize),
		reg.Register(m.jobRuns),
		reg.Register(m.jobDuration),
		reg.Register(m.httpRequests),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants for non-RPC errors (RPC errors are tracked via calls_total{status="error"}).
const (
	ErrTypeStore         = "store"
	ErrTypeCorruptRecord = "corrupt_record"
	ErrTypeArchive       = "archive"
	ErrTypeGateway       = "gateway"
)

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records a ledger RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, status(err)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// CommitChunk records a chunk committed to a stream's rankings.
func (m *Metrics) CommitChunk(stream string, blocks uint64, events int, watermark uint64, durationSeconds float64) {
	if m == nil {
		return
	}
	m.blocksIndexed.WithLabelValues(stream).Add(float64(blocks))
	if events > 0 {
		m.eventsProcessed.WithLabelValues(stream).Add(float64(events))
	}
	m.watermark.WithLabelValues(stream).Set(float64(watermark))
	m.chunkDuration.WithLabelValues(stream).Observe(durationSeconds)
}

// SetWatermark updates a stream's watermark gauge without counting blocks.
func (m *Metrics) SetWatermark(stream string, watermark uint64) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(stream).Set(float64(watermark))
}

// RecordSnapshot records a committed window snapshot.
func (m *Metrics) RecordSnapshot(window int64) {
	if m == nil {
		return
	}
	m.snapshotsWritten.Inc()
	m.lastSnapshotted.Set(float64(window))
}

// SetCurrentWindow updates the current window gauge.
func (m *Metrics) SetCurrentWindow(window int64) {
	if m == nil {
		return
	}
	m.currentWindow.Set(float64(window))
}

// RecordArchive records a snapshot archive attempt for a sink.
func (m *Metrics) RecordArchive(sink string, err error) {
	if m == nil {
		return
	}
	m.archived.WithLabelValues(sink, status(err)).Inc()
}

// IncSnapshotConflict counts a commit lost to a concurrent invocation.
func (m *Metrics) IncSnapshotConflict() {
	if m == nil {
		return
	}
	m.snapshotConflicts.Inc()
}

// ObserveFinalizerRun records one finalizer run duration.
func (m *Metrics) ObserveFinalizerRun(seconds float64) {
	if m == nil {
		return
	}
	m.finalizerRunSeconds.Observe(seconds)
}

// RecordDelivery records one delivery attempt outcome and its gateway latency.
func (m *Metrics) RecordDelivery(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.gatewayDuration.Observe(durationSeconds)
}

// IncStalePruned counts a pruned due-index entry.
func (m *Metrics) IncStalePruned() {
	if m == nil {
		return
	}
	m.stalePruned.Inc()
}

// IncDisabled counts a subscription removed after repeated invalid tokens.
func (m *Metrics) IncDisabled() {
	if m == nil {
		return
	}
	m.disabled.Inc()
}

// ObserveDueBatch records how many subscriptions one dispatch read.
func (m *Metrics) ObserveDueBatch(size int) {
	if m == nil {
		return
	}
	m.dueBatchSize.Observe(float64(size))
}

// RecordJobRun records one periodic job run.
func (m *Metrics) RecordJobRun(job string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordHTTPRequest records a trigger surface request.
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
