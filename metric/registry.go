package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// MetricsRegistry owns the process's Prometheus registry: the core bot
// metrics, the Go and process collectors, and any collectors individual
// services register for themselves. Registration is duplicate-checked per
// service.name key so two services cannot silently share a collector.
type MetricsRegistry struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	metrics    *Metrics
	collectors map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core metrics and runtime
// collectors already registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		registry:   prometheus.NewRegistry(),
		metrics:    NewMetrics(),
		collectors: make(map[string]prometheus.Collector),
	}

	r.registry.MustRegister(
		r.metrics.ServiceStatus,
		r.metrics.HealthStatus,
		r.metrics.LifecycleDuration,
		r.metrics.RestartsTotal,
		r.metrics.ErrorsTotal,
		r.metrics.EventsTotal,
		r.metrics.CommandsTotal,
		r.metrics.CommandDuration,
		r.metrics.WebhooksTotal,
		r.metrics.TicketsOpen,
		r.metrics.TicketsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Metrics returns the core metric set.
func (r *MetricsRegistry) Metrics() *Metrics {
	return r.metrics
}

// Registry returns the underlying Prometheus registry for exposition.
func (r *MetricsRegistry) Registry() *prometheus.Registry {
	return r.registry
}

// Register adds a service-specific collector under service.name.
func (r *MetricsRegistry) Register(service, name string, collector prometheus.Collector) error {
	if service == "" || name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "MetricsRegistry", "Register", "service and metric name required")
	}
	if collector == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "MetricsRegistry", "Register", "collector required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", service, name)
	if _, exists := r.collectors[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", "Register", "register collector",
		)
	}

	if err := r.registry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "register collector")
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register collector")
	}

	r.collectors[key] = collector
	return nil
}

// Unregister removes a service-specific collector. It reports whether the
// collector existed.
func (r *MetricsRegistry) Unregister(service, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", service, name)
	collector, exists := r.collectors[key]
	if !exists {
		return false
	}

	r.registry.Unregister(collector)
	delete(r.collectors, key)
	return true
}
