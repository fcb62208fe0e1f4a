package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/notify"
	"github.com/johnnynv/issuesync/internal/poller"
	"github.com/johnnynv/issuesync/internal/service"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// BaseComponent provides common functionality for all components
type BaseComponent struct {
	name      string
	logger    *logger.Entry
	mu        sync.RWMutex
	state     State
	startedAt time.Time
	lastError string
}

func (c *BaseComponent) init(name string, parentLogger *logger.Entry) {
	c.name = name
	c.logger = parentLogger.WithField("component", name)
	c.state = StateUnknown
}

// GetName implements Component.GetName
func (c *BaseComponent) GetName() string {
	return c.name
}

// GetStatus implements Component.GetStatus
func (c *BaseComponent) GetStatus() ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := ComponentStatus{
		Name:      c.name,
		State:     c.state,
		Health:    HealthStateUnknown,
		LastError: c.lastError,
	}

	if !c.startedAt.IsZero() {
		status.StartedAt = c.startedAt
		status.Uptime = time.Since(c.startedAt)
	}

	switch c.state {
	case StateRunning:
		status.Health = HealthStateHealthy
	case StateError:
		status.Health = HealthStateUnhealthy
	}

	return status
}

func (c *BaseComponent) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.logger.WithFields(logger.Fields{
		"operation": "state_change",
		"new_state": string(state),
	}).Debug("Component state changed")
}

func (c *BaseComponent) markStarted() {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.setState(StateStarting)
}

func (c *BaseComponent) setError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	c.setState(StateError)

	c.logger.WithFields(logger.Fields{
		"operation": "error",
		"error":     err.Error(),
	}).Error("Component error occurred")
}

func (c *BaseComponent) since() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startedAt)
}

// ConfigComponent wraps the configuration manager
type ConfigComponent struct {
	BaseComponent
	manager *config.Manager
}

// NewConfigComponent creates a new ConfigComponent
func NewConfigComponent(manager *config.Manager, parentLogger *logger.Entry) *ConfigComponent {
	c := &ConfigComponent{manager: manager}
	c.init("config", parentLogger)
	return c
}

// Start implements Component.Start
func (c *ConfigComponent) Start(ctx context.Context) error {
	c.markStarted()
	if c.manager.Get() == nil {
		err := fmt.Errorf("configuration not loaded")
		c.setError(err)
		return err
	}
	c.setState(StateRunning)
	return nil
}

// Stop implements Component.Stop
func (c *ConfigComponent) Stop(ctx context.Context) error {
	c.setState(StateStopped)
	return nil
}

// Health implements Component.Health
func (c *ConfigComponent) Health(ctx context.Context) error {
	if c.manager.Get() == nil {
		return fmt.Errorf("configuration not loaded")
	}
	return nil
}

// statsTimeout bounds the count queries behind /status
const statsTimeout = 2 * time.Second

// StorageComponent wraps the storage layer
type StorageComponent struct {
	BaseComponent
	store storage.Storage
}

// NewStorageComponent creates a new StorageComponent
func NewStorageComponent(store storage.Storage, parentLogger *logger.Entry) *StorageComponent {
	c := &StorageComponent{store: store}
	c.init("storage", parentLogger)
	return c
}

// Start runs migrations and checks connectivity
func (c *StorageComponent) Start(ctx context.Context) error {
	c.markStarted()

	c.logger.WithFields(logger.Fields{
		"operation": "start",
	}).Info("Starting storage component")

	if err := c.store.Initialize(ctx); err != nil {
		c.setError(err)
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := c.store.HealthCheck(ctx); err != nil {
		c.setError(err)
		return err
	}

	c.setState(StateRunning)

	c.logger.WithFields(logger.Fields{
		"operation": "start",
		"duration":  c.since(),
	}).Info("Storage component started successfully")

	return nil
}

// Stop implements Component.Stop
func (c *StorageComponent) Stop(ctx context.Context) error {
	c.setState(StateStopping)

	if err := c.store.Close(); err != nil {
		c.logger.WithFields(logger.Fields{
			"operation": "stop",
			"error":     err.Error(),
		}).Error("Error closing storage")
	}

	c.setState(StateStopped)

	c.logger.WithFields(logger.Fields{
		"operation": "stop",
	}).Info("Storage component stopped successfully")

	return nil
}

// Health implements Component.Health
func (c *StorageComponent) Health(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

// GetStatus adds database-wide counts while the store is open
func (c *StorageComponent) GetStatus() ComponentStatus {
	status := c.BaseComponent.GetStatus()
	if status.State != StateRunning {
		return status
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	stats, err := c.store.GetStats(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Storage stats unavailable")
		return status
	}
	status.Metrics = stats
	return status
}

// GitClientComponent wraps the provider that builds per-binding GitHub
// clients
type GitClientComponent struct {
	BaseComponent
	clients gitclient.ClientProvider
}

// NewGitClientComponent creates a new GitClientComponent
func NewGitClientComponent(clients gitclient.ClientProvider, parentLogger *logger.Entry) *GitClientComponent {
	c := &GitClientComponent{clients: clients}
	c.init("git_client", parentLogger)
	return c
}

// Start implements Component.Start
func (c *GitClientComponent) Start(ctx context.Context) error {
	c.markStarted()
	c.setState(StateRunning)
	return nil
}

// Stop implements Component.Stop
func (c *GitClientComponent) Stop(ctx context.Context) error {
	c.setState(StateStopped)
	return nil
}

// Health implements Component.Health
func (c *GitClientComponent) Health(ctx context.Context) error {
	if c.clients == nil {
		return fmt.Errorf("client provider not configured")
	}
	return nil
}

// ServiceComponent wraps the sync service and applies the binding seeds
// from the configuration file on start
type ServiceComponent struct {
	BaseComponent
	service *service.Service
	seeds   []types.BindingSeed

	seeded int
	failed int
}

// NewServiceComponent creates a new ServiceComponent
func NewServiceComponent(svc *service.Service, seeds []types.BindingSeed, parentLogger *logger.Entry) *ServiceComponent {
	c := &ServiceComponent{service: svc, seeds: seeds}
	c.init("sync_service", parentLogger)
	return c
}

// Start applies the binding seeds. A seed that fails validation is logged
// and skipped so one bad token cannot keep the daemon down.
func (c *ServiceComponent) Start(ctx context.Context) error {
	c.markStarted()
	c.applySeeds(ctx, c.seeds)
	c.setState(StateRunning)

	c.logger.WithFields(logger.Fields{
		"operation": "start",
		"seeded":    c.seeded,
		"failed":    c.failed,
		"duration":  c.since(),
	}).Info("Sync service component started successfully")

	return nil
}

// SetSeeds replaces the seeds applied by the next Start or Reseed
func (c *ServiceComponent) SetSeeds(seeds []types.BindingSeed) {
	c.mu.Lock()
	c.seeds = seeds
	c.mu.Unlock()
}

// Reseed re-applies the current seeds
func (c *ServiceComponent) Reseed(ctx context.Context) {
	c.mu.RLock()
	seeds := c.seeds
	c.mu.RUnlock()
	c.applySeeds(ctx, seeds)
}

func (c *ServiceComponent) applySeeds(ctx context.Context, seeds []types.BindingSeed) {
	seeded, failed := 0, 0
	for _, seed := range seeds {
		log := c.logger.WithFields(logger.Fields{
			"operation":  "seed_binding",
			"project_id": seed.ProjectID,
			"repository": seed.Owner + "/" + seed.Name,
		})

		req := types.ValidateRequest{Owner: seed.Owner, Name: seed.Name, AccessToken: seed.Token}
		if _, err := c.service.ValidateRepository(ctx, seed.ProjectID, req); err != nil {
			failed++
			log.WithError(err).Warn("Binding seed failed validation")
			continue
		}

		input := types.BindingInput{
			Owner:        seed.Owner,
			Name:         seed.Name,
			AccessToken:  seed.Token,
			AutoSync:     seed.AutoSync,
			SyncInterval: seed.SyncInterval,
		}
		if _, err := c.service.ConfigureRepository(ctx, seed.ProjectID, input); err != nil {
			failed++
			log.WithError(err).Warn("Binding seed could not be saved")
			continue
		}
		seeded++
		log.Info("Binding seed applied")
	}

	c.mu.Lock()
	c.seeded, c.failed = seeded, failed
	c.mu.Unlock()
}

// Stop implements Component.Stop
func (c *ServiceComponent) Stop(ctx context.Context) error {
	c.setState(StateStopped)
	return nil
}

// Health implements Component.Health
func (c *ServiceComponent) Health(ctx context.Context) error {
	if c.service == nil {
		return fmt.Errorf("sync service not configured")
	}
	return nil
}

// GetStatus adds the seed counters to the base status
func (c *ServiceComponent) GetStatus() ComponentStatus {
	status := c.BaseComponent.GetStatus()
	c.mu.RLock()
	status.Metrics = map[string]int{"seeded": c.seeded, "seed_failures": c.failed}
	c.mu.RUnlock()
	return status
}

// PollerComponent wraps the autoSync scheduler
type PollerComponent struct {
	BaseComponent
	poller poller.Poller
}

// NewPollerComponent creates a new PollerComponent
func NewPollerComponent(pollerImpl poller.Poller, parentLogger *logger.Entry) *PollerComponent {
	c := &PollerComponent{poller: pollerImpl}
	c.init("poller", parentLogger)
	return c
}

// Start implements Component.Start
func (c *PollerComponent) Start(ctx context.Context) error {
	c.markStarted()

	c.logger.WithFields(logger.Fields{
		"operation": "start",
	}).Info("Starting poller component")

	if err := c.poller.Start(ctx); err != nil {
		c.setError(err)
		return fmt.Errorf("failed to start poller: %w", err)
	}

	c.setState(StateRunning)

	c.logger.WithFields(logger.Fields{
		"operation":       "start",
		"active_bindings": c.poller.GetStatus().ActiveBindings,
		"duration":        c.since(),
	}).Info("Poller component started successfully")

	return nil
}

// Stop implements Component.Stop
func (c *PollerComponent) Stop(ctx context.Context) error {
	c.setState(StateStopping)

	if err := c.poller.Stop(ctx); err != nil {
		c.logger.WithError(err).Error("Failed to stop poller")
		return err
	}

	c.setState(StateStopped)

	c.logger.WithFields(logger.Fields{
		"operation": "stop",
	}).Info("Poller component stopped successfully")

	return nil
}

// Health implements Component.Health
func (c *PollerComponent) Health(ctx context.Context) error {
	if !c.poller.GetStatus().Running {
		return fmt.Errorf("poller is not running")
	}
	return nil
}

// Refresh reconciles the schedule after bindings changed outside the API
func (c *PollerComponent) Refresh(ctx context.Context) error {
	_, err := c.poller.Refresh(ctx)
	return err
}

// GetStatus adds the poller metrics to the base status
func (c *PollerComponent) GetStatus() ComponentStatus {
	status := c.BaseComponent.GetStatus()
	status.Metrics = c.poller.GetMetrics()
	return status
}

// unhealthyAfterFails is how many undelivered events in a row mark the
// notifier unhealthy
const unhealthyAfterFails = 5

// NotifierComponent owns the sync event dispatcher
type NotifierComponent struct {
	BaseComponent
	dispatcher *notify.Dispatcher
}

// NewNotifierComponent creates a new NotifierComponent
func NewNotifierComponent(dispatcher *notify.Dispatcher, parentLogger *logger.Entry) *NotifierComponent {
	c := &NotifierComponent{dispatcher: dispatcher}
	c.init("notifier", parentLogger)
	return c
}

// Start implements Component.Start
func (c *NotifierComponent) Start(ctx context.Context) error {
	c.markStarted()
	c.setState(StateRunning)
	return nil
}

// Stop drains queued events until ctx expires
func (c *NotifierComponent) Stop(ctx context.Context) error {
	c.setState(StateStopping)

	if err := c.dispatcher.Shutdown(ctx); err != nil {
		c.setError(err)
		return fmt.Errorf("failed to stop notifier: %w", err)
	}

	c.setState(StateStopped)
	c.logger.WithFields(logger.Fields{
		"operation": "stop",
		"metrics":   c.dispatcher.GetMetrics(),
	}).Info("Notifier component stopped successfully")
	return nil
}

// Optional marks webhook outages as degraded, not unhealthy
func (c *NotifierComponent) Optional() bool { return true }

// Health reports recent delivery failures without contacting the receiver
func (c *NotifierComponent) Health(ctx context.Context) error {
	if fails := c.dispatcher.GetMetrics().ConsecutiveFails; fails >= unhealthyAfterFails {
		return fmt.Errorf("last %d sync events were not delivered", fails)
	}
	return nil
}

// GetStatus adds the delivery metrics to the base status
func (c *NotifierComponent) GetStatus() ComponentStatus {
	status := c.BaseComponent.GetStatus()
	status.Metrics = c.dispatcher.GetMetrics()
	return status
}
