// Package health defines the health reporting model shared by services and
// the operational HTTP endpoints.
package health

import "time"

// Well-known status strings. Anything else is treated as unhealthy by
// consumers.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is a point-in-time health report for one component, optionally
// carrying reports for its sub-components.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the small set of numbers worth exposing alongside a
// health report.
type Metrics struct {
	Uptime       time.Duration `json:"uptime,omitempty"`
	Restarts     int64         `json:"restarts,omitempty"`
	ErrorCount   int64         `json:"error_count,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitzero"`
}

// NewHealthy returns a healthy status for component.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded returns a degraded status: still serving, but impaired.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy returns an unhealthy status for component.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy reports whether the status is unhealthy or unknown.
func (s Status) IsUnhealthy() bool {
	return !s.IsHealthy() && !s.IsDegraded()
}

// WithMetrics returns a copy of s with metrics attached.
func (s Status) WithMetrics(m Metrics) Status {
	out := s
	out.Metrics = &m
	return out
}

// WithSubStatus returns a copy of s with sub appended to its
// sub-component reports.
func (s Status) WithSubStatus(sub Status) Status {
	out := s
	out.SubStatuses = make([]Status, 0, len(s.SubStatuses)+1)
	out.SubStatuses = append(out.SubStatuses, s.SubStatuses...)
	out.SubStatuses = append(out.SubStatuses, sub)
	return out
}

// Aggregate combines sub-component reports into one status for component.
// Any unhealthy sub-component makes the aggregate unhealthy; otherwise any
// degraded sub-component makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		}
		if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var result Status
	switch {
	case hasUnhealthy:
		result = NewUnhealthy(component, "one or more sub-components are unhealthy")
	case hasDegraded:
		result = NewDegraded(component, "one or more sub-components are degraded")
	default:
		result = NewHealthy(component, "all sub-components healthy")
	}

	result.SubStatuses = make([]Status, len(subStatuses))
	copy(result.SubStatuses, subStatuses)
	return result
}
