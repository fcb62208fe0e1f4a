package runtime

import (
	"context"
	"fmt"

	"github.com/johnnynv/issuesync/internal/api"
	"github.com/johnnynv/issuesync/pkg/logger"
)

// APIComponent runs the HTTP API as the last component so the service it
// exposes is already up
type APIComponent struct {
	BaseComponent
	server *api.Server
}

// NewAPIComponent wires the server to svc. With a nil runtime /health only
// reports the API itself.
func NewAPIComponent(svc api.SyncService, port int, runtime Runtime, parentLogger *logger.Entry) *APIComponent {
	c := &APIComponent{}
	c.init("api_server", parentLogger)
	c.server = api.NewServer(port, svc, c.logger)
	if runtime != nil {
		c.server.SetRuntime(newRuntimeAPIAdapter(runtime))
	}
	return c
}

func (c *APIComponent) Start(ctx context.Context) error {
	c.markStarted()
	if err := c.server.Start(ctx); err != nil {
		c.setError(err)
		return fmt.Errorf("failed to start API server: %w", err)
	}
	c.setState(StateRunning)

	c.logger.WithFields(logger.Fields{
		"operation": "start",
		"addr":      c.server.Addr().String(),
		"duration":  c.since(),
	}).Info("API server component started")
	return nil
}

func (c *APIComponent) Stop(ctx context.Context) error {
	c.setState(StateStopping)
	if err := c.server.Stop(ctx); err != nil {
		c.setError(err)
		return fmt.Errorf("failed to stop API server: %w", err)
	}
	c.setState(StateStopped)
	c.logger.WithField("operation", "stop").Info("API server component stopped")
	return nil
}

func (c *APIComponent) Health(ctx context.Context) error {
	return c.server.Health(ctx)
}

// GetStatus adds the listen address once bound
func (c *APIComponent) GetStatus() ComponentStatus {
	status := c.BaseComponent.GetStatus()
	if addr := c.server.Addr(); addr != nil {
		status.Metrics = map[string]string{"addr": addr.String()}
	}
	return status
}

// GetServer returns the underlying API server
func (c *APIComponent) GetServer() *api.Server {
	return c.server
}
