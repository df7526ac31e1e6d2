package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_Format(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, "storage", "Enable", "open pool")

	require.Error(t, err)
	assert.Equal(t, "storage.Enable: open pool failed: disk full", err.Error())
	assert.True(t, stderrors.Is(err, cause))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "storage", "Enable", "open pool"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassifiedWrap_PreservesSentinel(t *testing.T) {
	err := WrapInvalid(fmt.Errorf("%w: tickets", ErrDuplicateService), "manager", "Register", "register service")

	assert.True(t, stderrors.Is(err, ErrDuplicateService))
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))

	var classified *ClassifiedError
	require.True(t, stderrors.As(err, &classified))
	assert.Equal(t, ClassInvalid, classified.Class)
	assert.Equal(t, "manager", classified.Component)
	assert.Equal(t, "Register", classified.Operation)
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"timeout sentinel", ErrTimeout, ClassTransient},
		{"not connected sentinel", ErrNotConnected, ClassTransient},
		{"wrapped timeout", fmt.Errorf("enable: %w", ErrTimeout), ClassTransient},
		{"dependency not running", ErrDependencyNotRunning, ClassTransient},
		{"connection refused string", stderrors.New("dial tcp: connection refused"), ClassTransient},
		{"duplicate service", ErrDuplicateService, ClassInvalid},
		{"unknown dependency", ErrUnknownDependency, ClassInvalid},
		{"already active", ErrAlreadyActive, ClassInvalid},
		{"missing config", ErrMissingConfig, ClassInvalid},
		{"circular dependency", ErrCircularDependency, ClassFatal},
		{"unknown error defaults transient", stderrors.New("something odd"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassifiedError_MessageAndUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := newClassified(ClassFatal, cause, "engine", "run", "engine.run: boom")

	assert.Equal(t, "engine.run: boom", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, IsFatal(err))

	noMessage := newClassified(ClassTransient, cause, "engine", "run", "")
	assert.Equal(t, "boom", noMessage.Error())
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "invalid", ClassInvalid.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestIsHelpers_NilSafe(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}
