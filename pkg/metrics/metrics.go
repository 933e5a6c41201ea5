package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebate_decisions_total",
			Help: "Decision passes by outcome (auto_approved, flagged, disabled, cap_reached)",
		},
		[]string{"outcome"},
	)

	DecisionScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rebate_decision_score",
			Help:    "Composite fraud score of scored submissions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebate_payouts_total",
			Help: "Payout initiations by result",
		},
		[]string{"result"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebate_webhook_events_total",
			Help: "Processor webhook deliveries by event class and outcome",
		},
		[]string{"class", "outcome"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	registerOnce sync.Once
)

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(DecisionsTotal)
		prometheus.MustRegister(DecisionScore)
		prometheus.MustRegister(PayoutsTotal)
		prometheus.MustRegister(WebhookEventsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
