package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tronex"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "method", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "method", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "method", "state"}, // state: closed/open/half_open
	)

	// 扫块
	ScanHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_checkpoint_height",
			Help:      "Last fully processed block height.",
		},
		[]string{"chain"},
	)
	ChainTipHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_chain_tip_height",
			Help:      "Latest block height reported by the node.",
		},
		[]string{"chain"},
	)
	ScanPassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_pass_total",
			Help:      "Scan passes by result.",
		},
		[]string{"chain", "result"}, // result: ok/skipped/idle/error
	)
	ScanPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_pass_duration_seconds",
			Help:      "Duration of scan passes that held the checkpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"chain"},
	)
	ReorgWarnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_reorg_warning_total",
			Help:      "Parent hash mismatches seen below the confirmation depth.",
		},
		[]string{"chain"},
	)

	// 入账
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcome_total",
			Help:      "Deposit reconcile outcomes.",
		},
		[]string{"outcome"}, // credited/duplicate-ignored/amount-mismatch/error
	)

	// 地址分配
	AddressAssignedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "address_assigned_total",
		Help:      "Deposit addresses assigned.",
	})
	AddressAssignRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "address_assign_retry_total",
		Help:      "Index assignment retries after a uniqueness conflict.",
	})
)

func MustRegister() {
	prometheus.MustRegister(
		RateLimitBlockTotal, CBRejectTotal, CBState,
		ScanHeight, ChainTipHeight, ScanPassTotal, ScanPassDuration, ReorgWarnTotal,
		ReconcileTotal, AddressAssignedTotal, AddressAssignRetryTotal,
	)
}
