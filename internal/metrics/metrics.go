// Package metrics provides Prometheus metrics for campusdesk.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all campusdesk collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Reminder scheduler
	ReminderTicks        *prometheus.CounterVec
	ReminderEmails       *prometheus.CounterVec
	ReminderTickDuration prometheus.Histogram

	// Assignment
	AssignmentClaims *prometheus.CounterVec

	// Store retries
	RetryAttempts *prometheus.CounterVec

	// Outbox
	OutboxDeliveries *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec

	// Live chat
	ChatClients prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry, so several
// instances (one per test) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.ReminderTicks = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_reminder_ticks_total",
			Help: "Reminder scheduler ticks by result (ok, failed, skipped)",
		},
		[]string{"result"},
	)
	m.ReminderEmails = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_reminder_emails_total",
			Help: "Reminder emails by result (sent, failed, duplicate, no_contact)",
		},
		[]string{"result"},
	)
	m.ReminderTickDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusdesk_reminder_tick_duration_seconds",
			Help:    "Duration of reminder ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.AssignmentClaims = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_assignment_claims_total",
			Help: "Claim attempts by result (ok, not_found, active_case, error)",
		},
		[]string{"result"},
	)

	m.RetryAttempts = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_retry_attempts_total",
			Help: "Retried store operations by outcome",
		},
		[]string{"outcome"},
	)

	m.OutboxDeliveries = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_outbox_deliveries_total",
			Help: "Outbox deliveries by event kind and result",
		},
		[]string{"kind", "result"},
	)

	m.HTTPRequests = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusdesk_http_requests_total",
			Help: "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	m.ChatClients = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusdesk_chat_clients",
			Help: "Connected live chat websocket clients",
		},
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
