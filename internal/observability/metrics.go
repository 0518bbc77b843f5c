package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// --- Engine ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	Journals           *prometheus.CounterVec
	StateHashDur       prometheus.Histogram
	Sequence           prometheus.Gauge
	GuardRejections    prometheus.Counter
	Compensations      *prometheus.CounterVec

	// --- Solvency ---
	HealthChecks      *prometheus.CounterVec
	LiquidationsTotal *prometheus.CounterVec
	CollateralSeized  *prometheus.CounterVec
	DebtOutstanding   prometheus.Gauge
	CollateralCustody *prometheus.GaugeVec

	// --- Oracle ---
	PriceUpdates     *prometheus.CounterVec
	OracleRejections *prometheus.CounterVec

	// --- Channels ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten      prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot / recovery ---
	SnapshotTaken   prometheus.Counter
	SnapshotLastSeq prometheus.Gauge
	ReplayOpsTotal  prometheus.Counter
	ReplayDuration  prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		OperationsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_engine_operations_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"operation"}),

		OperationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_engine_operations_rejected_total",
			Help: "Operations rejected, by error kind",
		}, []string{"operation", "kind"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsc_engine_operation_duration_seconds",
			Help:    "Time to execute one operation including external effects",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_engine_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsc_engine_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_engine_sequence",
			Help: "Next sequence number to assign",
		}),

		GuardRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_engine_reentrancy_rejections_total",
			Help: "Calls rejected because the reentrancy guard was held",
		}),

		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_engine_compensations_total",
			Help: "Units of work rolled back after an external effect failed",
		}, []string{"operation"}),

		HealthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_health_factor_checks_total",
			Help: "Solvency assertions, by outcome",
		}, []string{"outcome"}),

		LiquidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_liquidations_total",
			Help: "Completed liquidations",
		}, []string{"token"}),

		CollateralSeized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_liquidation_collateral_seized",
			Help: "Collateral seized by liquidations, in whole token units",
		}, []string{"token"}),

		DebtOutstanding: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_debt_outstanding",
			Help: "Total DSC debt outstanding, in whole units",
		}),

		CollateralCustody: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dsc_collateral_custody",
			Help: "Collateral held in custody, in whole token units",
		}, []string{"token"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_oracle_price_updates_total",
			Help: "Price rounds ingested, by result",
		}, []string{"feed", "result"}),

		OracleRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_oracle_rejections_total",
			Help: "Prices refused at read time",
		}, []string{"reason"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dsc_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dsc_channel_capacity",
			Help: "Channel capacity",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"operation", "tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		PersistOpsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_persist_operations_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsc_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsc_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayOpsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dsc_replay_operations_total",
			Help: "Operations replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_replay_duration_seconds",
			Help: "Total replay time",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsc_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsc_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel occupancy gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
