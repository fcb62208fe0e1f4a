package runtime

import (
	"context"

	"github.com/johnnynv/issuesync/internal/api"
)

// runtimeAPIAdapter lets the API's /health and /status handlers read a
// Runtime without importing this package
type runtimeAPIAdapter struct {
	runtime Runtime
}

func newRuntimeAPIAdapter(runtime Runtime) api.RuntimeProvider {
	return &runtimeAPIAdapter{runtime: runtime}
}

// Health reports serving unless the runtime is unhealthy. A degraded runtime,
// for example one whose notifier is failing, still serves sync requests.
func (a *runtimeAPIAdapter) Health(ctx context.Context) api.RuntimeHealthStatus {
	health, err := a.runtime.Health(ctx)
	if err != nil || health == nil {
		out := api.RuntimeHealthStatus{
			Status:     string(HealthStateUnhealthy),
			Components: map[string]api.ComponentHealth{},
			Checks:     []api.HealthCheck{},
		}
		if err != nil {
			out.Checks = append(out.Checks, api.HealthCheck{
				Name:   "runtime",
				Status: string(HealthStateUnhealthy),
				Error:  err.Error(),
			})
		}
		return out
	}

	out := api.RuntimeHealthStatus{
		Healthy:    health.Status != HealthStateUnhealthy,
		Status:     string(health.Status),
		Components: make(map[string]api.ComponentHealth, len(health.Components)),
		Checks:     make([]api.HealthCheck, 0, len(health.Checks)),
	}
	for name, state := range health.Components {
		out.Components[name] = api.ComponentHealth{Status: string(state)}
	}
	for _, check := range health.Checks {
		out.Checks = append(out.Checks, api.HealthCheck{
			Name:     check.Name,
			Status:   string(check.Status),
			Duration: check.Duration,
			Error:    check.Error,
		})
		// the component map carries the latency of its own check
		if c, ok := out.Components[check.Name]; ok {
			c.Duration = check.Duration
			out.Components[check.Name] = c
		}
	}
	return out
}

func (a *runtimeAPIAdapter) GetStatus() *api.RuntimeStatus {
	status := a.runtime.GetStatus()
	if status == nil {
		return &api.RuntimeStatus{
			State:      string(StateUnknown),
			Components: map[string]api.ComponentStatus{},
		}
	}

	out := &api.RuntimeStatus{
		State:      string(status.State),
		StartedAt:  status.StartedAt,
		Uptime:     status.Uptime,
		Version:    status.Version,
		ActiveRuns: status.ActiveRuns,
		Components: make(map[string]api.ComponentStatus, len(status.Components)),
	}
	for name, comp := range status.Components {
		out.Components[name] = toAPIComponentStatus(comp)
	}
	return out
}

func toAPIComponentStatus(comp ComponentStatus) api.ComponentStatus {
	return api.ComponentStatus{
		Name:      comp.Name,
		State:     string(comp.State),
		StartedAt: comp.StartedAt,
		Uptime:    comp.Uptime,
		Health:    string(comp.Health),
		LastError: comp.LastError,
		Metrics:   comp.Metrics,
	}
}
