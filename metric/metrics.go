// Package metric wraps a private Prometheus registry with the bot's core
// instrumentation and a duplicate-checked registration surface for
// service-specific collectors.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deterna"

// Metrics holds the collectors every deployment exposes.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	HealthStatus      *prometheus.GaugeVec
	LifecycleDuration *prometheus.HistogramVec
	RestartsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	WebhooksTotal     *prometheus.CounterVec
	TicketsOpen       prometheus.Gauge
	TicketsTotal      *prometheus.CounterVec
}

// NewMetrics creates the core collector set. Collectors are inert until
// registered.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=disabled, 1=enabling, 2=enabled, 3=disabling, 4=error)",
		}, []string{"service"}),

		HealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "healthy",
			Help:      "Last health check result (1=healthy, 0=unhealthy)",
		}, []string{"service"}),

		LifecycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "lifecycle_duration_seconds",
			Help:      "Duration of enable and disable operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),

		RestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Automatic restarts triggered by failed health checks",
		}, []string{"service"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by originating service and classification",
		}, []string{"service", "class"}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events emitted, by kind",
		}, []string{"kind"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Slash command invocations by outcome",
		}, []string{"command", "outcome"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Slash command handling duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),

		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries received, by event kind and outcome",
		}, []string{"event", "outcome"}),

		TicketsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tickets_open",
			Help:      "Support tickets currently open or claimed",
		}),

		TicketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_total",
			Help:      "Ticket operations by action",
		}, []string{"action"}),
	}
}

// RecordServiceStatus sets the status gauge for a service. The value is
// the numeric lifecycle state documented in the metric help.
func (m *Metrics) RecordServiceStatus(service string, status int) {
	m.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordHealthStatus records the latest health check result.
func (m *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthStatus.WithLabelValues(service).Set(value)
}

// RecordLifecycleDuration observes how long an enable or disable took.
func (m *Metrics) RecordLifecycleDuration(service, operation string, d time.Duration) {
	m.LifecycleDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}

// RecordRestart counts one auto-restart attempt for service.
func (m *Metrics) RecordRestart(service string) {
	m.RestartsTotal.WithLabelValues(service).Inc()
}

// RecordError counts one error for service under the given class.
func (m *Metrics) RecordError(service, class string) {
	m.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordEvent counts one emitted lifecycle event.
func (m *Metrics) RecordEvent(kind string) {
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordCommand counts one slash command invocation and its duration.
func (m *Metrics) RecordCommand(command, outcome string, d time.Duration) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordWebhookDelivery counts one inbound webhook delivery.
func (m *Metrics) RecordWebhookDelivery(event, outcome string) {
	m.WebhooksTotal.WithLabelValues(event, outcome).Inc()
}

// SetOpenTickets sets the open-ticket gauge.
func (m *Metrics) SetOpenTickets(n float64) {
	m.TicketsOpen.Set(n)
}

// RecordTicketAction counts one ticket operation (open, claim, close).
func (m *Metrics) RecordTicketAction(action string) {
	m.TicketsTotal.WithLabelValues(action).Inc()
}
