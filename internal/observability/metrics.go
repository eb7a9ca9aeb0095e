package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tv_validations_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	ValidationTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tv_validation_tx_seconds",
			Help:    "Duration of redemption transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForgerySuspicions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tv_forgery_suspicions_total",
			Help: "Scans whose hash did not match the bound hash",
		},
	)

	TicketsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tv_tickets_issued_total",
			Help: "Validation records created or refreshed at issuance",
		},
	)

	IssueRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tv_issue_retries_total",
			Help: "Issuance attempts retried by the issuer worker",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tv_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tv_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(ValidationsTotal, ValidationTxDuration, ForgerySuspicions, TicketsIssued, IssueRetries, OutboxLag, RateLimitExceeded)
}
