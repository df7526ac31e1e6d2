// Package errors provides the error taxonomy shared across the bot:
// sentinel values for lifecycle and registration failures, an error
// classification scheme (transient, invalid, fatal) that drives logging
// and handling decisions, and wrapping helpers that attach
// component/operation context to failures.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass categorizes errors by how callers should react to them.
type ErrorClass int

const (
	// ClassTransient errors may succeed on a later attempt (next health
	// tick, reconnect, retry by the operator).
	ClassTransient ErrorClass = iota
	// ClassInvalid errors indicate bad input or configuration; retrying
	// without a change cannot succeed.
	ClassInvalid
	// ClassFatal errors indicate an unrecoverable condition.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Lifecycle errors
var (
	ErrAlreadyActive = errors.New("service already active")
	ErrTimeout       = errors.New("operation timed out")
)

// Registration errors
var (
	ErrDuplicateService   = errors.New("service already registered")
	ErrUnknownDependency  = errors.New("dependency not registered")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// Targeted operation errors
var (
	ErrServiceNotFound        = errors.New("service not found")
	ErrDependencyNotRunning   = errors.New("dependency not running")
	ErrDependentsStillRunning = errors.New("dependent services still running")
)

// Platform and storage errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrNotFound     = errors.New("not found")
)

// Configuration errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its class and the component and
// operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// transientPatterns match wrapped errors from libraries that do not expose
// typed errors for retryable conditions.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"temporarily unavailable",
	"try again",
	"too many requests",
}

// IsTransient reports whether err represents a condition that may clear on
// a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class == ClassTransient
	}

	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrDependencyNotRunning),
		errors.Is(err, ErrDependentsStillRunning):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err stems from bad input or configuration.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class == ClassInvalid
	}

	switch {
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingConfig),
		errors.Is(err, ErrDuplicateService),
		errors.Is(err, ErrUnknownDependency),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrServiceNotFound),
		errors.Is(err, ErrNotFound):
		return true
	}
	return false
}

// IsFatal reports whether err is unrecoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class == ClassFatal
	}

	return errors.Is(err, ErrCircularDependency)
}

// Classify returns the class of err, defaulting to transient so unknown
// failures stay retryable.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ClassFatal
	case IsInvalid(err):
		return ClassInvalid
	default:
		return ClassTransient
	}
}

// Wrap adds component.method context to an error:
//
//	storage.Enable: open pool failed: <cause>
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps err with context and marks it transient.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassTransient, wrapped, component, method, wrapped.Error())
}

// WrapInvalid wraps err with context and marks it invalid.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassInvalid, wrapped, component, method, wrapped.Error())
}

// WrapFatal wraps err with context and marks it fatal.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ClassFatal, wrapped, component, method, wrapped.Error())
}
