package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's prometheus collectors. All methods are nil-safe
// so tests can pass a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	scanTickets    prometheus.Counter
	scanFailures   prometheus.Counter
	ruleFirings    *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	assignments    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	deliveryFails  *prometheus.CounterVec
	unresolvedApps prometheus.Counter
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "servicedesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_escalation_scans_total",
			Help: "Escalation scan passes by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "servicedesk_escalation_scan_duration_seconds",
			Help:    "Wall time of a completed escalation scan pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		scanTickets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_escalation_scan_tickets_total",
			Help: "Tickets evaluated by escalation scans.",
		}),
		scanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_escalation_scan_failures_total",
			Help: "Per-ticket failures isolated during escalation scans.",
		}),
		ruleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_escalation_rule_firings_total",
			Help: "Escalation rule firings by rule.",
		}, []string{"rule_id"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_ticket_transitions_total",
			Help: "Ticket status transitions.",
		}, []string{"from", "to"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_assignment_decisions_total",
			Help: "Assignment rule decisions by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_notifications_total",
			Help: "Notification requests by type and delivery result.",
		}, []string{"type", "result"}),
		deliveryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_notification_delivery_failures_total",
			Help: "Notifications the outbound channel failed to deliver after being queued.",
		}, []string{"sender"}),
		unresolvedApps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_approval_unresolvable_total",
			Help: "Approval stages for which no approver could be resolved.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.errors,
		m.scans,
		m.scanDuration,
		m.scanTickets,
		m.scanFailures,
		m.ruleFirings,
		m.transitions,
		m.assignments,
		m.notifications,
		m.deliveryFails,
		m.unresolvedApps,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordScan records a finished or skipped escalation pass.
func (m *Metrics) RecordScan(skipped bool, tickets, failures int, duration time.Duration) {
	if m == nil {
		return
	}
	if skipped {
		m.scans.WithLabelValues("skipped").Inc()
		return
	}
	outcome := "ok"
	if failures > 0 {
		outcome = "partial"
	}
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(duration.Seconds())
	m.scanTickets.Add(float64(tickets))
	m.scanFailures.Add(float64(failures))
}

// RecordRuleFiring counts one escalation rule application.
func (m *Metrics) RecordRuleFiring(ruleID string) {
	if m == nil {
		return
	}
	m.ruleFirings.WithLabelValues(ruleID).Inc()
}

// RecordTransition counts a status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordAssignment counts an assignment decision: "assigned" or "unassigned".
func (m *Metrics) RecordAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

// RecordNotification counts a delivery attempt.
func (m *Metrics) RecordNotification(kind string, delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// RecordDeliveryFailure counts notifications lost by a background sender.
func (m *Metrics) RecordDeliveryFailure(sender string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deliveryFails.WithLabelValues(sender).Add(float64(count))
}

// RecordUnresolvableApprover counts an approval stage left without approver.
func (m *Metrics) RecordUnresolvableApprover() {
	if m == nil {
		return
	}
	m.unresolvedApps.Inc()
}
