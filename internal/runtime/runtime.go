package runtime

import (
	"context"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// Runtime owns the daemon. Components start in dependency order and stop
// in reverse, so the sync service is gone before its storage closes.
type Runtime interface {
	Start(ctx context.Context) error
	// Stop waits for in-flight sync runs until ctx expires.
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*HealthStatus, error)
	GetStatus() *RuntimeStatus
	// Reload re-reads the configuration, re-applies binding seeds and
	// refreshes the autoSync schedule.
	Reload(ctx context.Context) error
}

// RuntimeFactory builds a Runtime from configuration. A nil loggerManager falls
// back to the default logger.
type RuntimeFactory interface {
	CreateRuntime(cfg *types.Config, loggerManager *logger.Manager) (Runtime, error)
}

// Component is one lifecycle unit of the runtime.
type Component interface {
	GetName() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
	GetStatus() ComponentStatus
}

// Optional marks components whose failure leaves issues syncing. The
// notifier is the only one today.
type Optional interface {
	Optional() bool
}

func isOptional(c Component) bool {
	o, ok := c.(Optional)
	return ok && o.Optional()
}

// State is the lifecycle position shared by the runtime and its components.
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// HealthState grades a health check.
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateUnknown   HealthState = "unknown"
)

// worse reports whether h ranks below other. Unknown ranks between
// degraded and unhealthy.
func (h HealthState) worse(other HealthState) bool {
	return healthRank[h] > healthRank[other]
}

var healthRank = map[HealthState]int{
	HealthStateHealthy:   0,
	HealthStateDegraded:  1,
	HealthStateUnknown:   2,
	HealthStateUnhealthy: 3,
}

// RuntimeStatus is the daemon snapshot served by /status.
type RuntimeStatus struct {
	State      State                      `json:"state"`
	StartedAt  time.Time                  `json:"started_at"`
	Uptime     time.Duration              `json:"uptime"`
	Version    string                     `json:"version"`
	ActiveRuns []string                   `json:"active_runs,omitempty"`
	Components map[string]ComponentStatus `json:"components"`
}

type ComponentStatus struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Health    HealthState   `json:"health"`
	LastError string        `json:"last_error,omitempty"`
	Metrics   interface{}   `json:"metrics,omitempty"`
}

// HealthStatus aggregates component checks. A failing optional component
// leaves the runtime degraded rather than unhealthy.
type HealthStatus struct {
	Status     HealthState            `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Components map[string]HealthState `json:"components"`
	Checks     []HealthCheck          `json:"checks"`
}

type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthState   `json:"status"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
}
