// Package metrics provides Prometheus metrics for the coordination
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	TransitionsTotal      *prometheus.CounterVec
	TransitionsFailed     *prometheus.CounterVec
	LedgerCallsTotal      *prometheus.CounterVec
	LedgerCallDuration    prometheus.Histogram
	EscalationsCreated    *prometheus.CounterVec
	RecipientLookupMisses *prometheus.CounterVec
	NotificationsRead     prometheus.Counter
	OpenDeliveries        prometheus.Gauge
	OutboxPending         prometheus.Gauge
	ChangeEventsPublished prometheus.Counter
	ChangeEventsConsumed  prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescription_transitions_total",
			Help: "Total lifecycle transitions applied",
		}, []string{"transition"}),
		TransitionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescription_transitions_failed_total",
			Help: "Total rejected or failed transitions",
		}, []string{"transition", "reason"}),
		LedgerCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_calls_total",
			Help: "Total ledger anchor calls by method and outcome",
		}, []string{"method", "outcome"}),
		LedgerCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Ledger call duration including on-chain confirmation",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		EscalationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_notifications_created_total",
			Help: "Overdue notifications materialized by type",
		}, []string{"type"}),
		RecipientLookupMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_recipient_lookup_misses_total",
			Help: "Reminders suppressed by a failed recipient lookup",
		}, []string{"role"}),
		NotificationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_marked_read_total",
			Help: "Physical notification documents marked read",
		}),
		OpenDeliveries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prescriptions_open_deliveries",
			Help: "Prescriptions accepted by logistics and not yet delivered",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ChangeEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "change_events_published_total",
			Help: "Prescription change events published to the broker",
		}),
		ChangeEventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "change_events_consumed_total",
			Help: "Prescription change events consumed from the broker",
		}),
	}

	prometheus.MustRegister(
		m.TransitionsTotal,
		m.TransitionsFailed,
		m.LedgerCallsTotal,
		m.LedgerCallDuration,
		m.EscalationsCreated,
		m.RecipientLookupMisses,
		m.NotificationsRead,
		m.OpenDeliveries,
		m.OutboxPending,
		m.ChangeEventsPublished,
		m.ChangeEventsConsumed,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
