// Package service implements the bot's lifecycle layer: the Service
// contract, a reusable base implementation, and the Manager that starts,
// stops, health-checks, and restarts registered services in dependency
// order.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/health"
	"github.com/Eterna-Community/Deterna-Bot/metric"
)

// Status is a service's lifecycle state.
type Status int

const (
	StatusDisabled Status = iota
	StatusEnabling
	StatusEnabled
	StatusDisabling
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusEnabling:
		return "enabling"
	case StatusEnabled:
		return "enabled"
	case StatusDisabling:
		return "disabling"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds a service's static lifecycle settings. It is fixed at
// construction time.
type Config struct {
	// Priority orders startup seeding; higher starts earlier.
	Priority int
	// Dependencies are identifiers that must be registered before this
	// service and enabled before it starts.
	Dependencies []string
	// Timeout bounds each enable and disable hook invocation.
	// DefaultTimeout applies when zero.
	Timeout time.Duration
	// RestartOnError lets the health loop disable+enable the service
	// after a failed check.
	RestartOnError bool
}

const (
	// DefaultTimeout bounds lifecycle hooks when the config sets none.
	DefaultTimeout = 30 * time.Second
	// HealthCheckTimeout bounds every health hook invocation.
	HealthCheckTimeout = 5 * time.Second
)

// HookFunc implements one lifecycle transition. The context carries the
// operation deadline; hooks should honor cancellation.
type HookFunc func(ctx context.Context) error

// Service is the contract the Manager supervises.
type Service interface {
	Name() string
	Config() Config
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	Status() Status
	LastError() error
	StartTime() time.Time
	Uptime() time.Duration
	IsHealthy() bool
	GetStatus() Info
	Health() health.Status
}

// Info is a point-in-time snapshot of a service for status surfaces.
type Info struct {
	Name           string        `json:"name"`
	Status         string        `json:"status"`
	Healthy        bool          `json:"healthy"`
	Priority       int           `json:"priority"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	RestartOnError bool          `json:"restart_on_error"`
	Uptime         time.Duration `json:"uptime"`
	StartTime      time.Time     `json:"start_time,omitzero"`
	LastError      string        `json:"last_error,omitempty"`
}

// errBox wraps an error for atomic.Value, which cannot hold nil.
type errBox struct{ err error }

// BaseService implements Service around three optional hooks. Concrete
// services embed it and supply their hooks through options.
type BaseService struct {
	name    string
	config  Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	enableHook  HookFunc
	disableHook HookFunc
	healthHook  HookFunc

	// opMu serializes Enable and Disable so the health loop's restart
	// pair cannot interleave with a manual operation.
	opMu sync.Mutex

	status    atomic.Value // Status
	startTime atomic.Value // time.Time
	lastErr   atomic.Value // errBox
}

// Option configures a BaseService.
type Option func(*BaseService)

// WithEnable sets the enable hook.
func WithEnable(hook HookFunc) Option {
	return func(s *BaseService) { s.enableHook = hook }
}

// WithDisable sets the disable hook.
func WithDisable(hook HookFunc) Option {
	return func(s *BaseService) { s.disableHook = hook }
}

// WithHealthCheck sets the health hook. Without one, an enabled service
// reports healthy.
func WithHealthCheck(hook HookFunc) Option {
	return func(s *BaseService) { s.healthHook = hook }
}

// WithLogger sets the logger; service name context is added automatically.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) { s.logger = logger }
}

// WithMetrics wires lifecycle instrumentation.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) { s.metrics = registry }
}

// New creates a disabled service with the given identifier and lifecycle
// settings.
func New(name string, config Config, opts ...Option) *BaseService {
	s := &BaseService{
		name:   name,
		config: config,
	}
	s.status.Store(StatusDisabled)
	s.startTime.Store(time.Time{})
	s.lastErr.Store(errBox{})

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("service", name)

	if s.metrics != nil {
		s.metrics.Metrics().RecordServiceStatus(name, int(StatusDisabled))
	}

	return s
}

// Name returns the service identifier.
func (s *BaseService) Name() string { return s.name }

// Config returns a copy of the lifecycle settings.
func (s *BaseService) Config() Config {
	cfg := s.config
	cfg.Dependencies = slices.Clone(s.config.Dependencies)
	return cfg
}

// Status returns the current lifecycle state.
func (s *BaseService) Status() Status {
	return s.status.Load().(Status)
}

// LastError returns the error captured by the most recent failed
// operation, or nil.
func (s *BaseService) LastError() error {
	return s.lastErr.Load().(errBox).err
}

// StartTime returns when the service last became enabled, or the zero time.
func (s *BaseService) StartTime() time.Time {
	return s.startTime.Load().(time.Time)
}

// Uptime returns how long the service has been enabled, zero when it is
// not running.
func (s *BaseService) Uptime() time.Duration {
	started := s.StartTime()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}

// IsHealthy reports whether the service is enabled with no captured error.
func (s *BaseService) IsHealthy() bool {
	return s.Status() == StatusEnabled && s.LastError() == nil
}

// Enable transitions disabled → enabling → enabled, running the enable
// hook under the configured timeout. Any other starting state fails with
// the already-active error. The hook gets exactly one attempt.
func (s *BaseService) Enable(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if st := s.Status(); st != StatusDisabled {
		return fmt.Errorf("%w: %s is %s", errors.ErrAlreadyActive, s.name, st)
	}

	s.setStatus(StatusEnabling)
	s.storeErr(nil)
	s.logger.Debug("enabling service")

	start := time.Now()
	err := s.runHook(ctx, s.enableHook, s.config.Timeout)
	duration := time.Since(start)
	s.recordDuration("enable", duration)

	if err != nil {
		err = errors.Wrap(err, s.name, "Enable", "enable hook")
		s.storeErr(err)
		s.setStatus(StatusError)
		s.logger.Error("enable failed", "error", err, "duration_ms", duration.Milliseconds())
		return err
	}

	s.startTime.Store(time.Now())
	s.setStatus(StatusEnabled)
	s.logger.Info("service enabled", "duration_ms", duration.Milliseconds())
	return nil
}

// Disable transitions to disabled, running the disable hook under the
// configured timeout. Disabling an already disabled service is a no-op.
// The final state is disabled even when the hook errors; the error is
// captured and returned.
func (s *BaseService) Disable(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Status() == StatusDisabled {
		return nil
	}

	s.setStatus(StatusDisabling)
	s.storeErr(nil)
	s.logger.Debug("disabling service")

	start := time.Now()
	err := s.runHook(ctx, s.disableHook, s.config.Timeout)
	duration := time.Since(start)
	s.recordDuration("disable", duration)

	// A failed teardown still lands in disabled with no start time.
	s.startTime.Store(time.Time{})
	s.setStatus(StatusDisabled)

	if err != nil {
		err = errors.Wrap(err, s.name, "Disable", "disable hook")
		s.storeErr(err)
		s.logger.Error("disable failed", "error", err, "duration_ms", duration.Milliseconds())
		return err
	}

	s.logger.Info("service disabled", "duration_ms", duration.Milliseconds())
	return nil
}

// HealthCheck probes the service. It returns false without invoking the
// hook unless the service is enabled. Hook errors and timeouts are
// captured in the last error and reported as false, never propagated.
func (s *BaseService) HealthCheck(ctx context.Context) bool {
	if s.Status() != StatusEnabled {
		return false
	}
	if s.healthHook == nil {
		return true
	}

	if err := s.runHook(ctx, s.healthHook, HealthCheckTimeout); err != nil {
		err = errors.Wrap(err, s.name, "HealthCheck", "health hook")
		s.storeErr(err)
		s.logger.Warn("health check failed", "error", err)
		if s.metrics != nil {
			s.metrics.Metrics().RecordHealthStatus(s.name, false)
		}
		return false
	}

	if s.metrics != nil {
		s.metrics.Metrics().RecordHealthStatus(s.name, true)
	}
	return true
}

// runHook races the hook against its deadline. The deadline context is
// passed to the hook; a hook that ignores cancellation keeps running in
// the background after a lost race and its result is discarded into the
// buffered channel.
func (s *BaseService) runHook(ctx context.Context, hook HookFunc, timeout time.Duration) error {
	if hook == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook(hookCtx)
	}()

	select {
	case err := <-done:
		// A hook that observed the deadline itself reports the same
		// timeout as a lost race.
		if err != nil && stderrors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", errors.ErrTimeout, timeout)
		}
		return err
	case <-hookCtx.Done():
		if hookCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", errors.ErrTimeout, timeout)
		}
		return hookCtx.Err()
	}
}

// GetStatus returns a snapshot for status surfaces.
func (s *BaseService) GetStatus() Info {
	info := Info{
		Name:           s.name,
		Status:         s.Status().String(),
		Healthy:        s.IsHealthy(),
		Priority:       s.config.Priority,
		Dependencies:   slices.Clone(s.config.Dependencies),
		RestartOnError: s.config.RestartOnError,
		Uptime:         s.Uptime(),
		StartTime:      s.StartTime(),
	}
	if err := s.LastError(); err != nil {
		info.LastError = err.Error()
	}
	return info
}

// Health maps the lifecycle state onto the shared health model. An
// enabled service with a captured error reports degraded rather than
// unhealthy: it is still running, but its last probe or operation failed.
func (s *BaseService) Health() health.Status {
	status := s.Status()
	lastErr := s.LastError()

	var result health.Status
	switch {
	case status == StatusEnabled && lastErr == nil:
		result = health.NewHealthy(s.name, "")
	case status == StatusEnabled:
		result = health.NewDegraded(s.name, health.SanitizeMessage(lastErr.Error()))
	default:
		message := fmt.Sprintf("status %s", status)
		if lastErr != nil {
			message = fmt.Sprintf("status %s: %s", status, health.SanitizeMessage(lastErr.Error()))
		}
		result = health.NewUnhealthy(s.name, message)
	}

	return result.WithMetrics(health.Metrics{Uptime: s.Uptime()})
}

func (s *BaseService) setStatus(status Status) {
	s.status.Store(status)
	if s.metrics != nil {
		s.metrics.Metrics().RecordServiceStatus(s.name, int(status))
	}
}

func (s *BaseService) storeErr(err error) {
	s.lastErr.Store(errBox{err: err})
}

func (s *BaseService) recordDuration(operation string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.Metrics().RecordLifecycleDuration(s.name, operation, d)
	}
}
