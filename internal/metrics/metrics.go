package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MintsTotal tracks completed mints per custodian
	MintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_mints_total",
			Help: "Total number of completed mints",
		},
		[]string{"custodian"},
	)

	// MintedAmountTotal tracks minted base units per custodian
	MintedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_minted_amount_total",
			Help: "Total minted amount in base units",
		},
		[]string{"custodian"},
	)

	// RedemptionsTotal tracks redemption finalizations by outcome
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_redemptions_total",
			Help: "Total number of redemption transitions",
		},
		[]string{"custodian", "status"},
	)

	// AttestationsTotal tracks accepted attestation submissions
	AttestationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_attestations_total",
			Help: "Total number of accepted attestations",
		},
		[]string{"custodian"},
	)

	// ConsensusRoundsTotal tracks finalized oracle rounds by outcome
	ConsensusRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_consensus_rounds_total",
			Help: "Total number of closed consensus rounds",
		},
		[]string{"custodian", "outcome"},
	)

	// EnforcementsTotal tracks watchdog enforcements
	EnforcementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_enforcements_total",
			Help: "Total number of watchdog enforcement actions",
		},
	)

	// OperationErrorsTotal tracks rejected API operations by status
	OperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_operation_errors_total",
			Help: "Total number of rejected custody operations",
		},
		[]string{"operation", "status"},
	)

	// CustodianMinted tracks the current minted counter per custodian
	CustodianMinted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_custodian_minted",
			Help: "Current minted amount per custodian",
		},
		[]string{"custodian"},
	)

	// CustodianReserve tracks the latest attested reserve per custodian
	CustodianReserve = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_custodian_reserve",
			Help: "Latest attested reserve balance per custodian",
		},
		[]string{"custodian"},
	)

	// WatchdogScanDuration tracks full collateralization scan latency
	WatchdogScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_watchdog_scan_seconds",
			Help:    "Watchdog scan latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsTotal tracks emitted audit events by type
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_total",
			Help: "Total number of emitted audit events",
		},
		[]string{"type"},
	)

	// RPCLatency tracks collaborator RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_rpc_latency_seconds",
			Help:    "Collaborator RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target", "method"},
	)

	// DBConnectionPoolUsage tracks database pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
