package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Billing and scheduler counters, served on the metrics side listener.
var (
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "billing",
		Name:      "payment_events_total",
		Help:      "settled payment events by kind",
	}, []string{"kind"})

	InvoicesSent = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "billing",
		Name:      "renewal_invoices_sent_total",
		Help:      "renewal invoices delivered to users",
	})

	CommissionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "billing",
		Name:      "commissions_recorded_total",
		Help:      "commission ledger entries recorded",
	})

	SweepActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "scheduler",
		Name:      "sweep_actions_total",
		Help:      "scheduler sweep actions by decision",
	}, []string{"action"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "scheduler",
		Name:      "sweep_duration_ms",
		Help:      "full sweep latency in milliseconds",
		Buckets:   HistogramBuckets,
	})
)
