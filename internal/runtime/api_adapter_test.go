package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/internal/api"
)

type mockRuntime struct {
	healthStatus  *HealthStatus
	healthErr     error
	runtimeStatus *RuntimeStatus
}

func (m *mockRuntime) Start(ctx context.Context) error  { return nil }
func (m *mockRuntime) Stop(ctx context.Context) error   { return nil }
func (m *mockRuntime) Reload(ctx context.Context) error { return nil }

func (m *mockRuntime) Health(ctx context.Context) (*HealthStatus, error) {
	return m.healthStatus, m.healthErr
}

func (m *mockRuntime) GetStatus() *RuntimeStatus {
	return m.runtimeStatus
}

func TestNewRuntimeAPIAdapter(t *testing.T) {
	var provider api.RuntimeProvider = newRuntimeAPIAdapter(&mockRuntime{})
	assert.NotNil(t, provider)
}

func TestRuntimeAPIAdapter_Health(t *testing.T) {
	rt := &mockRuntime{
		healthStatus: &HealthStatus{
			Status:    HealthStateUnhealthy,
			Timestamp: time.Now(),
			Components: map[string]HealthState{
				"storage": HealthStateHealthy,
				"poller":  HealthStateUnhealthy,
			},
			Checks: []HealthCheck{
				{Name: "storage", Status: HealthStateHealthy, Duration: 10 * time.Millisecond},
				{Name: "poller", Status: HealthStateUnhealthy, Duration: time.Millisecond, Error: "poller is not running"},
			},
		},
	}

	health := newRuntimeAPIAdapter(rt).Health(context.Background())

	assert.False(t, health.Healthy)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "healthy", health.Components["storage"].Status)
	assert.Equal(t, 10*time.Millisecond, health.Components["storage"].Duration)
	assert.Equal(t, "unhealthy", health.Components["poller"].Status)

	require.Len(t, health.Checks, 2)
	assert.Equal(t, "storage", health.Checks[0].Name)
	assert.Equal(t, "poller is not running", health.Checks[1].Error)
}

func TestRuntimeAPIAdapter_DegradedIsServing(t *testing.T) {
	rt := &mockRuntime{
		healthStatus: &HealthStatus{
			Status: HealthStateDegraded,
			Components: map[string]HealthState{
				"sync_service": HealthStateHealthy,
				"notifier":     HealthStateDegraded,
			},
		},
	}

	health := newRuntimeAPIAdapter(rt).Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "degraded", health.Components["notifier"].Status)
}

func TestRuntimeAPIAdapter_HealthError(t *testing.T) {
	t.Run("nil status", func(t *testing.T) {
		health := newRuntimeAPIAdapter(&mockRuntime{}).Health(context.Background())
		assert.False(t, health.Healthy)
		assert.Equal(t, "unhealthy", health.Status)
		assert.Empty(t, health.Components)
		assert.Empty(t, health.Checks)
	})

	t.Run("error becomes a runtime check", func(t *testing.T) {
		rt := &mockRuntime{healthStatus: &HealthStatus{Status: HealthStateHealthy}, healthErr: errors.New("runtime is not running")}
		health := newRuntimeAPIAdapter(rt).Health(context.Background())
		assert.False(t, health.Healthy)
		assert.Empty(t, health.Components)
		require.Len(t, health.Checks, 1)
		assert.Equal(t, "runtime", health.Checks[0].Name)
		assert.Equal(t, "runtime is not running", health.Checks[0].Error)
	})
}

func TestRuntimeAPIAdapter_GetStatus(t *testing.T) {
	now := time.Now()
	rt := &mockRuntime{
		runtimeStatus: &RuntimeStatus{
			State:      StateRunning,
			StartedAt:  now,
			Uptime:     time.Hour,
			Version:    "v1.2.0",
			ActiveRuns: []string{"web"},
			Components: map[string]ComponentStatus{
				"sync_service": {
					Name:    "sync_service",
					State:   StateRunning,
					Health:  HealthStateHealthy,
					Metrics: map[string]int{"seeded": 2},
				},
				"storage": {
					Name:      "storage",
					State:     StateError,
					Health:    HealthStateUnhealthy,
					LastError: "database is locked",
				},
			},
		},
	}

	status := newRuntimeAPIAdapter(rt).GetStatus()

	assert.Equal(t, "running", status.State)
	assert.Equal(t, now, status.StartedAt)
	assert.Equal(t, time.Hour, status.Uptime)
	assert.Equal(t, "v1.2.0", status.Version)
	assert.Equal(t, []string{"web"}, status.ActiveRuns)
	require.Len(t, status.Components, 2)
	assert.Equal(t, map[string]int{"seeded": 2}, status.Components["sync_service"].Metrics)
	assert.Equal(t, "error", status.Components["storage"].State)
	assert.Equal(t, "database is locked", status.Components["storage"].LastError)
}

func TestRuntimeAPIAdapter_GetStatusNil(t *testing.T) {
	status := newRuntimeAPIAdapter(&mockRuntime{}).GetStatus()
	assert.Equal(t, "unknown", status.State)
	assert.Empty(t, status.Components)
}
