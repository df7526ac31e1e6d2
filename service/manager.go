package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/metric"
)

const (
	// DefaultHealthInterval is how often the health loop probes enabled
	// services when no interval is configured.
	DefaultHealthInterval = 30 * time.Second
	// DefaultRestartDelay is the pause between the stop and start halves
	// of a Restart when the caller passes no delay.
	DefaultRestartDelay = time.Second
)

// OperationResult records one service's outcome within a batch.
type OperationResult struct {
	Service  string
	Err      error
	Duration time.Duration
}

// Success reports whether the operation completed without error.
func (r OperationResult) Success() bool { return r.Err == nil }

// BatchResult aggregates one Start or Stop pass over all services.
type BatchResult struct {
	Operation     string
	Results       []OperationResult
	Succeeded     []string
	Failed        []string
	TotalDuration time.Duration
}

// Manager supervises registered services: dependency-ordered start and
// stop, targeted operations, a periodic health loop with auto-restart, and
// lifecycle event emission.
type Manager struct {
	mu       sync.RWMutex
	services map[string]Service

	bus     *Bus
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	healthInterval time.Duration
	healthStop     chan struct{}
	wg             sync.WaitGroup

	shuttingDown atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerMetrics wires instrumentation.
func WithManagerMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) { m.metrics = registry }
}

// WithHealthInterval overrides the health loop period.
func WithHealthInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.healthInterval = interval
		}
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		services:       make(map[string]Service),
		healthInterval: DefaultHealthInterval,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "service-manager")
	m.bus = NewBus(m.logger)

	return m
}

// Register adds a service. Every declared dependency must already be
// registered; forward references are rejected, which also keeps the graph
// buildable in one pass.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Register", "nil service")
	}
	name := svc.Name()
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Register", "service with empty identifier")
	}

	cfg := svc.Config()

	m.mu.Lock()
	if _, exists := m.services[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrDuplicateService, name)
	}
	for _, dep := range cfg.Dependencies {
		if _, ok := m.services[dep]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s requires %s", errors.ErrUnknownDependency, name, dep)
		}
	}
	m.services[name] = svc
	m.mu.Unlock()

	m.logger.Info("service registered",
		"service", name,
		"priority", cfg.Priority,
		"dependencies", cfg.Dependencies)

	m.emit(Event{
		Service: name,
		Kind:    EventServiceRegistered,
		Data: map[string]any{
			"priority":     cfg.Priority,
			"dependencies": cfg.Dependencies,
		},
	})
	return nil
}

// OnEvent subscribes to lifecycle events; EventAny receives every kind.
// The returned function removes the subscription.
func (m *Manager) OnEvent(kind EventKind, handler Handler) func() {
	return m.bus.Subscribe(kind, handler)
}

// Service returns the registered service with the given identifier.
func (m *Manager) Service(name string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	return svc, ok
}

// Infos returns a snapshot of every registered service, sorted by name.
func (m *Manager) Infos() []Info {
	services := m.snapshot()

	names := slices.Sorted(maps.Keys(services))
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		infos = append(infos, services[name].GetStatus())
	}
	return infos
}

// Order returns the current startup order.
func (m *Manager) Order() ([]string, error) {
	return sortServices(m.snapshot())
}

// Start enables every registered service in dependency order. Individual
// failures are recorded and the batch continues; only an unsortable graph
// fails the call itself. On return the health loop is running.
func (m *Manager) Start(ctx context.Context) (BatchResult, error) {
	services := m.snapshot()
	order, err := sortServices(services)
	if err != nil {
		return BatchResult{Operation: "start"}, errors.WrapFatal(err, "Manager", "Start", "compute start order")
	}

	m.shuttingDown.Store(false)
	m.logger.Info("starting services", "count", len(order), "order", order)

	result := m.runBatch("start", order, services, func(svc Service) error {
		return svc.Enable(ctx)
	}, EventServiceStarted)

	m.startHealthLoop()
	m.finishBatch(result)
	return result, nil
}

// Stop disables every registered service in reverse dependency order. The
// health loop is stopped before any service so auto-restarts cannot race
// the shutdown.
func (m *Manager) Stop(ctx context.Context) (BatchResult, error) {
	m.shuttingDown.Store(true)
	m.stopHealthLoop()

	services := m.snapshot()
	order, err := sortServices(services)
	if err != nil {
		return BatchResult{Operation: "stop"}, errors.WrapFatal(err, "Manager", "Stop", "compute stop order")
	}
	slices.Reverse(order)

	m.logger.Info("stopping services", "count", len(order), "order", order)

	result := m.runBatch("stop", order, services, func(svc Service) error {
		return svc.Disable(ctx)
	}, EventServiceStopped)

	m.finishBatch(result)
	return result, nil
}

// runBatch applies op to each service in order, continuing through
// failures.
func (m *Manager) runBatch(operation string, order []string, services map[string]Service, op func(Service) error, successKind EventKind) BatchResult {
	result := BatchResult{Operation: operation}
	batchStart := time.Now()

	for _, name := range order {
		opStart := time.Now()
		err := op(services[name])
		duration := time.Since(opStart)

		result.Results = append(result.Results, OperationResult{
			Service:  name,
			Err:      err,
			Duration: duration,
		})

		if err != nil {
			result.Failed = append(result.Failed, name)
			if m.metrics != nil {
				m.metrics.Metrics().RecordError(name, errors.Classify(err).String())
			}
			m.logger.Error(operation+" failed",
				"service", name,
				"error", err,
				"duration_ms", duration.Milliseconds())
			m.emit(Event{
				Service: name,
				Kind:    EventServiceError,
				Data:    map[string]any{"operation": operation, "error": err.Error()},
			})
			continue
		}

		result.Succeeded = append(result.Succeeded, name)
		m.emit(Event{Service: name, Kind: successKind})
	}

	result.TotalDuration = time.Since(batchStart)
	return result
}

func (m *Manager) finishBatch(result BatchResult) {
	m.emit(Event{
		Kind: EventBatchCompleted,
		Data: map[string]any{
			"operation":   result.Operation,
			"succeeded":   len(result.Succeeded),
			"failed":      len(result.Failed),
			"duration_ms": result.TotalDuration.Milliseconds(),
		},
	})

	m.logger.Info("batch operation complete",
		"operation", result.Operation,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"duration_ms", result.TotalDuration.Milliseconds())

	if len(result.Failed) > 0 {
		m.logger.Warn("batch had failures",
			"operation", result.Operation,
			"failed", result.Failed)
	}
}

// StartService enables a single service. Every dependency must currently
// be enabled.
func (m *Manager) StartService(ctx context.Context, name string) error {
	m.mu.RLock()
	svc, ok := m.services[name]
	var blocked string
	if ok {
		for _, dep := range svc.Config().Dependencies {
			depSvc, exists := m.services[dep]
			if !exists || depSvc.Status() != StatusEnabled {
				blocked = dep
				break
			}
		}
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrServiceNotFound, name)
	}
	if blocked != "" {
		return fmt.Errorf("%w: %s requires %s", errors.ErrDependencyNotRunning, name, blocked)
	}

	if err := svc.Enable(ctx); err != nil {
		if m.metrics != nil {
			m.metrics.Metrics().RecordError(name, errors.Classify(err).String())
		}
		m.emit(Event{
			Service: name,
			Kind:    EventServiceError,
			Data:    map[string]any{"operation": "start", "error": err.Error()},
		})
		return err
	}

	m.emit(Event{Service: name, Kind: EventServiceStarted})
	return nil
}

// StopService disables a single service. It fails while any enabled
// service still depends on it.
func (m *Manager) StopService(ctx context.Context, name string) error {
	m.mu.RLock()
	svc, ok := m.services[name]
	var dependent string
	if ok {
		for otherName, other := range m.services {
			if otherName == name || other.Status() != StatusEnabled {
				continue
			}
			if slices.Contains(other.Config().Dependencies, name) {
				dependent = otherName
				break
			}
		}
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrServiceNotFound, name)
	}
	if dependent != "" {
		return fmt.Errorf("%w: %s is required by %s", errors.ErrDependentsStillRunning, name, dependent)
	}

	if err := svc.Disable(ctx); err != nil {
		if m.metrics != nil {
			m.metrics.Metrics().RecordError(name, errors.Classify(err).String())
		}
		m.emit(Event{
			Service: name,
			Kind:    EventServiceError,
			Data:    map[string]any{"operation": "stop", "error": err.Error()},
		})
		return err
	}

	m.emit(Event{Service: name, Kind: EventServiceStopped})
	return nil
}

// Restart performs a full Stop, waits delay (DefaultRestartDelay when
// zero), then a full Start. Both batch results are returned.
func (m *Manager) Restart(ctx context.Context, delay time.Duration) (BatchResult, BatchResult, error) {
	if delay <= 0 {
		delay = DefaultRestartDelay
	}

	stopResult, err := m.Stop(ctx)
	if err != nil {
		return stopResult, BatchResult{Operation: "start"}, err
	}

	m.logger.Info("restart pause", "delay", delay.String())
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return stopResult, BatchResult{Operation: "start"}, ctx.Err()
	}

	startResult, err := m.Start(ctx)
	return stopResult, startResult, err
}

// ShuttingDown reports whether a Stop is in progress or completed without
// a subsequent Start.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

func (m *Manager) snapshot() map[string]Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.services)
}

func (m *Manager) emit(evt Event) {
	if m.metrics != nil {
		m.metrics.Metrics().RecordEvent(string(evt.Kind))
	}
	m.bus.Emit(evt)
}

func (m *Manager) startHealthLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthStop != nil {
		return
	}
	stop := make(chan struct{})
	m.healthStop = stop

	m.wg.Add(1)
	go m.healthLoop(stop)
}

// stopHealthLoop signals the loop and waits for it to exit, so no health
// check or auto-restart runs after it returns.
func (m *Manager) stopHealthLoop() {
	m.mu.Lock()
	stop := m.healthStop
	m.healthStop = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
}

func (m *Manager) healthLoop(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkServices(context.Background())
		}
	}
}

// checkServices probes every enabled service once. An unhealthy service
// triggers one restart attempt when its config allows it; the next tick is
// the only retry.
func (m *Manager) checkServices(ctx context.Context) {
	if m.shuttingDown.Load() {
		return
	}

	for name, svc := range m.snapshot() {
		if svc.Status() != StatusEnabled {
			continue
		}
		if svc.HealthCheck(ctx) {
			continue
		}

		data := map[string]any{}
		if err := svc.LastError(); err != nil {
			data["error"] = err.Error()
		}
		m.emit(Event{Service: name, Kind: EventHealthCheckFailed, Data: data})
		m.logger.Warn("health check failed", "service", name)

		if m.shuttingDown.Load() {
			continue
		}
		if !svc.Config().RestartOnError {
			continue
		}

		m.restartService(ctx, name, svc)
	}
}

// restartService performs the single disable+enable pair for an unhealthy
// service. Disable always lands in disabled, so the enable half runs even
// when the disable hook errored.
func (m *Manager) restartService(ctx context.Context, name string, svc Service) {
	m.logger.Info("restarting unhealthy service", "service", name)
	if m.metrics != nil {
		m.metrics.Metrics().RecordRestart(name)
	}

	if err := svc.Disable(ctx); err != nil {
		m.logger.Warn("disable during restart reported an error", "service", name, "error", err)
	}

	if err := svc.Enable(ctx); err != nil {
		m.logger.Error("automatic restart failed", "service", name, "error", err)
		if m.metrics != nil {
			m.metrics.Metrics().RecordError(name, errors.Classify(err).String())
		}
		m.emit(Event{
			Service: name,
			Kind:    EventServiceError,
			Data:    map[string]any{"operation": "restart", "error": err.Error()},
		})
		return
	}

	m.logger.Info("service recovered after restart", "service", name)
}
