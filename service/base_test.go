package service

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusDisabled, "disabled"},
		{StatusEnabling, "enabling"},
		{StatusEnabled, "enabled"},
		{StatusDisabling, "disabling"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestService_InitialState(t *testing.T) {
	svc := New("database", Config{Priority: 100})

	assert.Equal(t, "database", svc.Name())
	assert.Equal(t, StatusDisabled, svc.Status())
	assert.NoError(t, svc.LastError())
	assert.True(t, svc.StartTime().IsZero())
	assert.Zero(t, svc.Uptime())
	assert.False(t, svc.IsHealthy())
}

func TestService_EnableSuccess(t *testing.T) {
	var calls atomic.Int64
	svc := New("database", Config{Timeout: time.Second},
		WithEnable(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}))

	require.NoError(t, svc.Enable(context.Background()))

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, StatusEnabled, svc.Status())
	assert.False(t, svc.StartTime().IsZero())
	assert.True(t, svc.IsHealthy())
	assert.NoError(t, svc.LastError())
}

func TestService_EnableWhenNotDisabled(t *testing.T) {
	var calls atomic.Int64
	svc := New("database", Config{},
		WithEnable(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}))

	require.NoError(t, svc.Enable(context.Background()))

	err := svc.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyActive))
	assert.Equal(t, int64(1), calls.Load(), "second enable must not run the hook")
}

func TestService_EnableFailure(t *testing.T) {
	hookErr := stderrors.New("connect refused")
	svc := New("discord-gateway", Config{},
		WithEnable(func(ctx context.Context) error {
			return hookErr
		}))

	err := svc.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, hookErr))
	assert.Equal(t, StatusError, svc.Status())
	assert.Error(t, svc.LastError())
	assert.True(t, svc.StartTime().IsZero(), "failed enable must not set a start time")
	assert.Zero(t, svc.Uptime())
	assert.False(t, svc.IsHealthy())
}

func TestService_EnableTimeout(t *testing.T) {
	svc := New("slow", Config{Timeout: 30 * time.Millisecond},
		WithEnable(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	start := time.Now()
	err := svc.Enable(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.Equal(t, StatusError, svc.Status())
	assert.Less(t, elapsed, 5*time.Second, "enable must not wait beyond its deadline")
}

func TestService_HookReceivesDeadline(t *testing.T) {
	var hadDeadline atomic.Bool
	svc := New("database", Config{Timeout: time.Second},
		WithEnable(func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			hadDeadline.Store(ok)
			return nil
		}))

	require.NoError(t, svc.Enable(context.Background()))
	assert.True(t, hadDeadline.Load(), "hooks must receive the deadline context")
}

func TestService_EnableWithCanceledContext(t *testing.T) {
	svc := New("database", Config{Timeout: time.Second},
		WithEnable(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Enable(ctx)
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, errors.ErrTimeout), "cancellation is not a timeout")
	assert.Equal(t, StatusError, svc.Status())
}

func TestService_ErrorRecoveryViaDisableEnable(t *testing.T) {
	var failNext atomic.Bool
	failNext.Store(true)

	svc := New("flaky", Config{},
		WithEnable(func(ctx context.Context) error {
			if failNext.Swap(false) {
				return stderrors.New("first attempt fails")
			}
			return nil
		}))

	require.Error(t, svc.Enable(context.Background()))
	assert.Equal(t, StatusError, svc.Status())
	assert.Error(t, svc.LastError())

	// Error state is only left through an explicit disable.
	require.NoError(t, svc.Disable(context.Background()))
	assert.Equal(t, StatusDisabled, svc.Status())
	assert.NoError(t, svc.LastError(), "disable clears the captured error")

	require.NoError(t, svc.Enable(context.Background()))
	assert.Equal(t, StatusEnabled, svc.Status())
	assert.True(t, svc.IsHealthy())
}

func TestService_DisableNoopWhenDisabled(t *testing.T) {
	var calls atomic.Int64
	svc := New("database", Config{},
		WithDisable(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}))

	require.NoError(t, svc.Disable(context.Background()))
	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, StatusDisabled, svc.Status())
}

func TestService_DisableAlwaysLandsDisabled(t *testing.T) {
	svc := New("webhooks", Config{},
		WithDisable(func(ctx context.Context) error {
			return stderrors.New("listener refused to close")
		}))

	require.NoError(t, svc.Enable(context.Background()))
	require.False(t, svc.StartTime().IsZero())

	err := svc.Disable(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusDisabled, svc.Status(), "disable must land in disabled even when the hook errors")
	assert.True(t, svc.StartTime().IsZero())
	assert.Zero(t, svc.Uptime())
	assert.Error(t, svc.LastError())
}

func TestService_DisableFromErrorState(t *testing.T) {
	var disableCalls atomic.Int64
	svc := New("flaky", Config{},
		WithEnable(func(ctx context.Context) error {
			return stderrors.New("boom")
		}),
		WithDisable(func(ctx context.Context) error {
			disableCalls.Add(1)
			return nil
		}))

	require.Error(t, svc.Enable(context.Background()))
	require.Equal(t, StatusError, svc.Status())

	require.NoError(t, svc.Disable(context.Background()))
	assert.Equal(t, int64(1), disableCalls.Load(), "disable from error state still runs the hook")
	assert.Equal(t, StatusDisabled, svc.Status())
}

func TestService_HealthCheckSkipsWhenNotEnabled(t *testing.T) {
	var calls atomic.Int64
	hook := func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}

	disabled := New("a", Config{}, WithHealthCheck(hook))
	assert.False(t, disabled.HealthCheck(context.Background()))

	errored := New("b", Config{},
		WithEnable(func(ctx context.Context) error { return stderrors.New("no") }),
		WithHealthCheck(hook))
	require.Error(t, errored.Enable(context.Background()))
	assert.False(t, errored.HealthCheck(context.Background()))

	assert.Equal(t, int64(0), calls.Load(), "health hook must not run unless enabled")
}

func TestService_HealthCheck(t *testing.T) {
	var healthErr atomic.Value
	healthErr.Store(errBox{})

	svc := New("database", Config{},
		WithHealthCheck(func(ctx context.Context) error {
			return healthErr.Load().(errBox).err
		}))

	require.NoError(t, svc.Enable(context.Background()))
	assert.True(t, svc.HealthCheck(context.Background()))
	assert.True(t, svc.IsHealthy())

	healthErr.Store(errBox{err: stderrors.New("ping failed")})
	assert.False(t, svc.HealthCheck(context.Background()))
	assert.Equal(t, StatusEnabled, svc.Status(), "failed health check does not change status")
	assert.Error(t, svc.LastError())
	assert.False(t, svc.IsHealthy())

	// Recovery: the hook passing again reports healthy, though the
	// captured error stays until the next lifecycle transition.
	healthErr.Store(errBox{})
	assert.True(t, svc.HealthCheck(context.Background()))
	assert.Error(t, svc.LastError())
}

func TestService_HealthCheckWithoutHook(t *testing.T) {
	svc := New("simple", Config{})
	require.NoError(t, svc.Enable(context.Background()))
	assert.True(t, svc.HealthCheck(context.Background()))
}

func TestService_UptimeTracksEnable(t *testing.T) {
	svc := New("database", Config{})

	require.NoError(t, svc.Enable(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, svc.Uptime(), time.Duration(0))

	require.NoError(t, svc.Disable(context.Background()))
	assert.Zero(t, svc.Uptime())
}

func TestService_ConfigIsCopied(t *testing.T) {
	svc := New("tickets", Config{
		Priority:     50,
		Dependencies: []string{"database", "discord-gateway"},
	})

	cfg := svc.Config()
	cfg.Dependencies[0] = "mutated"

	assert.Equal(t, []string{"database", "discord-gateway"}, svc.Config().Dependencies)
}

func TestService_GetStatus(t *testing.T) {
	svc := New("tickets", Config{
		Priority:       50,
		Dependencies:   []string{"database"},
		RestartOnError: true,
	})
	require.NoError(t, svc.Enable(context.Background()))

	info := svc.GetStatus()
	assert.Equal(t, "tickets", info.Name)
	assert.Equal(t, "enabled", info.Status)
	assert.True(t, info.Healthy)
	assert.Equal(t, 50, info.Priority)
	assert.Equal(t, []string{"database"}, info.Dependencies)
	assert.True(t, info.RestartOnError)
	assert.Empty(t, info.LastError)
	assert.False(t, info.StartTime.IsZero())
}

func TestService_HealthStatusMapping(t *testing.T) {
	svc := New("database", Config{},
		WithHealthCheck(func(ctx context.Context) error {
			return stderrors.New("open /var/lib/deterna/bot.db: locked")
		}))

	h := svc.Health()
	assert.True(t, h.IsUnhealthy(), "disabled service is unhealthy")

	require.NoError(t, svc.Enable(context.Background()))
	h = svc.Health()
	assert.True(t, h.IsHealthy())

	svc.HealthCheck(context.Background())
	h = svc.Health()
	assert.True(t, h.IsDegraded(), "enabled with captured error reports degraded")
	assert.NotContains(t, h.Message, "/var/lib", "health messages are sanitized")
}

func TestService_OperationsSerialized(t *testing.T) {
	var inHook atomic.Bool
	var overlap atomic.Bool

	guard := func(ctx context.Context) error {
		if !inHook.CompareAndSwap(false, true) {
			overlap.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inHook.Store(false)
		return nil
	}

	svc := New("contended", Config{}, WithEnable(guard), WithDisable(guard))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.Enable(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = svc.Disable(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "lifecycle hooks must never overlap for one service")
}
