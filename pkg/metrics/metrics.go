package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransfersTotal counts transfer attempts by outcome (completed, idempotent_replay, rejected)
var TransfersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wallet_transfers_total",
		Help: "Total number of transfer requests by outcome",
	},
	[]string{"outcome"},
)

// TransferLatency records how long the locked transfer unit of work takes
var TransferLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "wallet_transfer_duration_seconds",
		Help:    "Duration of the transfer transaction including lock waits",
		Buckets: prometheus.DefBuckets,
	},
)

// CancellationsTotal counts cancellation attempts by outcome
var CancellationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wallet_transfer_cancellations_total",
		Help: "Total number of transfer cancellations by outcome",
	},
	[]string{"outcome"},
)

// Fraud pipeline metrics
var (
	FraudAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_fraud_analyses_total",
			Help: "Completed fraud analyses by risk level",
		},
		[]string{"risk_level"},
	)

	FraudAutoCancelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_fraud_auto_cancellations_total",
			Help: "Automatic cancellations triggered by high fraud risk, by outcome",
		},
		[]string{"outcome"},
	)
)

// Event transport metrics
var (
	EventPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_event_publish_total",
			Help: "Event publications by topic and outcome (published, retried, dead_lettered)",
		},
		[]string{"topic", "outcome"},
	)

	BonusRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_bonus_optimistic_retries_total",
			Help: "Optimistic lock conflicts retried while crediting bonuses",
		},
	)
)

// Connection pool gauges, sampled periodically from database/sql stats
var (
	DBOpenConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wallet_db_open_connections",
		Help: "Open database connections",
	}, []string{"db"})
	DBIdleConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wallet_db_idle_connections",
		Help: "Idle database connections",
	}, []string{"db"})
	DBInUseConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wallet_db_in_use_connections",
		Help: "Database connections in use",
	}, []string{"db"})
)

func init() {
	prometheus.MustRegister(TransfersTotal, TransferLatency, CancellationsTotal)
	prometheus.MustRegister(FraudAnalysesTotal, FraudAutoCancelTotal)
	prometheus.MustRegister(EventPublishTotal, BonusRetriesTotal)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
