package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRuntimeProvider stands in for the runtime manager behind /health
// and /status
type MockRuntimeProvider struct {
	mock.Mock
}

func (m *MockRuntimeProvider) Health(ctx context.Context) RuntimeHealthStatus {
	return m.Called(ctx).Get(0).(RuntimeHealthStatus)
}

func (m *MockRuntimeProvider) GetStatus() *RuntimeStatus {
	status, _ := m.Called().Get(0).(*RuntimeStatus)
	return status
}

var defaultComponents = []string{"storage", "git_client", "sync_service", "poller"}

// NewMockRuntimeProvider reports every default component healthy and
// running.
func NewMockRuntimeProvider() *MockRuntimeProvider {
	return runtimeWith(defaultComponents, nil)
}

// newDegradedRuntime fails the named optional components while the rest
// stay healthy.
func newDegradedRuntime(failing ...string) *MockRuntimeProvider {
	return runtimeWith(append(append([]string(nil), defaultComponents...), failing...), failing)
}

func runtimeWith(names, failing []string) *MockRuntimeProvider {
	isFailing := make(map[string]bool, len(failing))
	for _, name := range failing {
		isFailing[name] = true
	}

	health := RuntimeHealthStatus{Healthy: true, Status: "healthy", Components: map[string]ComponentHealth{}}
	status := &RuntimeStatus{
		State:      "running",
		StartedAt:  time.Now().Add(-time.Minute),
		Uptime:     time.Minute,
		Version:    "test",
		Components: map[string]ComponentStatus{},
	}

	for _, name := range names {
		state := "healthy"
		if isFailing[name] {
			state = "degraded"
			health.Status = "degraded"
		}
		health.Components[name] = ComponentHealth{Status: state}
		health.Checks = append(health.Checks, HealthCheck{Name: name, Status: state})
		status.Components[name] = ComponentStatus{Name: name, State: "running", Health: state}
	}

	m := &MockRuntimeProvider{}
	m.On("Health", mock.Anything).Return(health).Maybe()
	m.On("GetStatus").Return(status).Maybe()
	return m
}
