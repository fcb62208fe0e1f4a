package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/api"
	"github.com/johnnynv/issuesync/internal/binding"
	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/notify"
	"github.com/johnnynv/issuesync/internal/poller"
	"github.com/johnnynv/issuesync/internal/service"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/internal/syncer"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// Options overrides collaborators the manager would otherwise build from
// the configuration
type Options struct {
	LoggerManager *logger.Manager
	ConfigManager *config.Manager
	Storage       storage.Storage
	Clients       gitclient.ClientProvider
}

// RuntimeManager implements the Runtime interface
type RuntimeManager struct {
	config    *types.Config
	logger    *logger.Entry
	startedAt time.Time
	state     State
	mu        sync.RWMutex

	configManager *config.Manager
	storage       storage.Storage
	clients       gitclient.ClientProvider
	service       *service.Service
	poller        poller.Poller

	serviceComponent *ServiceComponent
	pollerComponent  *PollerComponent

	components     map[string]Component
	componentOrder []string
}

// NewRuntimeManager creates a RuntimeManager from configuration alone
func NewRuntimeManager(cfg *types.Config) (*RuntimeManager, error) {
	return NewRuntimeManagerWithOptions(cfg, Options{})
}

// NewRuntimeManagerWithOptions creates a RuntimeManager, using any
// collaborator set in opts instead of building it
func NewRuntimeManagerWithOptions(cfg *types.Config, opts Options) (*RuntimeManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var runtimeLogger *logger.Entry
	var events logger.BusinessLogger
	if opts.LoggerManager != nil {
		runtimeLogger = opts.LoggerManager.ForModule("runtime", "manager")
		events = logger.NewBusinessLogger(opts.LoggerManager)
	} else {
		runtimeLogger = logger.GetDefaultLogger().WithFields(logger.Fields{
			"component": "runtime",
			"module":    "manager",
		})
	}

	rm := &RuntimeManager{
		config:         cfg,
		logger:         runtimeLogger,
		state:          StateUnknown,
		configManager:  opts.ConfigManager,
		storage:        opts.Storage,
		clients:        opts.Clients,
		components:     make(map[string]Component),
		componentOrder: []string{},
	}

	if err := rm.initializeComponents(events); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return rm, nil
}

// initializeComponents wires every component in dependency order
func (rm *RuntimeManager) initializeComponents(events logger.BusinessLogger) error {
	cfg := rm.config

	// 1. Configuration
	if rm.configManager == nil {
		rm.configManager = config.NewManager(logger.GetDefaultLogger())
		rm.configManager.SetConfig(cfg)
	}
	rm.addComponent("config", NewConfigComponent(rm.configManager, rm.logger))

	// 2. Storage
	if rm.storage == nil {
		store, err := storage.Open(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		rm.storage = store
	}
	rm.addComponent("storage", NewStorageComponent(rm.storage, rm.logger))

	// 3. GitHub clients
	if rm.clients == nil {
		rm.clients = NewClientFactory(cfg.GitHub, rm.logger)
	}
	rm.addComponent("git_client", NewGitClientComponent(rm.clients, rm.logger))

	// 4. Sync service
	validator := binding.NewValidator(rm.storage, rm.clients, binding.Config{
		ValidationTTL:   cfg.Sync.ValidationTTL,
		DefaultInterval: cfg.Sync.DefaultInterval,
	}, rm.logger)
	engine := syncer.NewEngine(rm.storage, rm.clients, syncer.Config{
		Workers: cfg.Sync.Workers,
		Events:  events,
	}, rm.logger)
	rm.service = service.New(rm.storage, validator, engine, rm.clients, events, service.Config{
		RunTimeout: cfg.Sync.RunTimeout,
	}, rm.logger)

	// Sync event webhook, stopped after the service so queued events drain
	if cfg.Notify.Enabled {
		webhook, err := notify.NewWebhookNotifier(cfg.Notify, cfg.GitHub.UserAgent, rm.logger)
		if err != nil {
			return fmt.Errorf("failed to create notifier: %w", err)
		}
		dispatcher := notify.NewDispatcher(webhook, cfg.Notify.QueueSize, rm.logger)
		rm.service.SetNotifier(dispatcher)
		rm.addComponent("notifier", NewNotifierComponent(dispatcher, rm.logger))
	}

	rm.serviceComponent = NewServiceComponent(rm.service, cfg.Bindings, rm.logger)
	rm.addComponent("sync_service", rm.serviceComponent)

	// 5. autoSync scheduler
	if cfg.Scheduler.IsEnabled() {
		rm.poller = poller.NewPoller(poller.PollerConfig{
			Tick:       cfg.Scheduler.Tick,
			MaxWorkers: cfg.Sync.Workers,
		}, rm.service, rm.logger)
		rm.pollerComponent = NewPollerComponent(rm.poller, rm.logger)
		rm.addComponent("poller", rm.pollerComponent)
	}

	// 6. API server (includes health endpoints)
	if cfg.App.HealthCheckPort > 0 {
		rm.addComponent("api_server", NewAPIComponent(rm.service, cfg.App.HealthCheckPort, rm, rm.logger))
	}

	rm.logger.WithFields(logger.Fields{
		"operation":       "initialize_components",
		"component_count": len(rm.components),
		"component_order": rm.componentOrder,
	}).Info("Successfully initialized all runtime components")

	return nil
}

// NewClientFactory builds the per-binding GitHub client factory from the
// github config section
func NewClientFactory(cfg types.GitHubConfig, parentLogger *logger.Entry) *gitclient.ClientFactory {
	return gitclient.NewClientFactory(gitclient.ClientConfig{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		UserAgent:     cfg.UserAgent,
	}, gitclient.RateLimiterConfig{
		Margin:          cfg.RateLimitMargin,
		RequestsPerHour: cfg.RequestsPerHour,
		Burst:           cfg.Burst,
	}, parentLogger.WithField("component", "gitclient"))
}

func (rm *RuntimeManager) addComponent(name string, component Component) {
	rm.components[name] = component
	rm.componentOrder = append(rm.componentOrder, name)
}

// Start implements Runtime.Start
func (rm *RuntimeManager) Start(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.state == StateRunning {
		return fmt.Errorf("runtime is already running")
	}

	rm.logger.WithFields(logger.Fields{
		"operation":  "start",
		"components": len(rm.components),
	}).Info("Starting IssueSync runtime")

	rm.state = StateStarting
	rm.startedAt = time.Now()

	for i, name := range rm.componentOrder {
		component := rm.components[name]

		if err := component.Start(ctx); err != nil {
			rm.state = StateError
			rm.logger.WithFields(logger.Fields{
				"operation": "start_component",
				"component": name,
				"error":     err.Error(),
			}).Error("Failed to start component")

			rm.stopComponents(ctx, rm.componentOrder[:i])
			return fmt.Errorf("failed to start component %s: %w", name, err)
		}

		rm.logger.WithFields(logger.Fields{
			"operation": "start_component",
			"component": name,
		}).Debug("Successfully started component")
	}

	rm.state = StateRunning

	rm.logger.WithFields(logger.Fields{
		"operation":  "start",
		"duration":   time.Since(rm.startedAt),
		"components": len(rm.components),
	}).Info("Successfully started IssueSync runtime")

	return nil
}

// Stop implements Runtime.Stop
func (rm *RuntimeManager) Stop(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.state == StateStopped {
		return nil
	}

	rm.logger.WithFields(logger.Fields{
		"operation": "stop",
	}).Info("Stopping IssueSync runtime")

	rm.state = StateStopping
	rm.stopComponents(ctx, rm.componentOrder)
	rm.state = StateStopped

	rm.logger.WithFields(logger.Fields{
		"operation": "stop",
		"uptime":    time.Since(rm.startedAt),
	}).Info("Successfully stopped IssueSync runtime")

	return nil
}

// stopComponents stops the named components in reverse order
func (rm *RuntimeManager) stopComponents(ctx context.Context, order []string) {
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := rm.components[name].Stop(ctx); err != nil {
			rm.logger.WithFields(logger.Fields{
				"operation": "stop_component",
				"component": name,
				"error":     err.Error(),
			}).Error("Failed to stop component")
		}
	}
}

// Health implements Runtime.Health
func (rm *RuntimeManager) Health(ctx context.Context) (*HealthStatus, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	healthStatus := &HealthStatus{
		Status:     HealthStateHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]HealthState),
		Checks:     []HealthCheck{},
	}

	for _, name := range rm.componentOrder {
		component := rm.components[name]
		start := time.Now()
		err := component.Health(ctx)

		check := HealthCheck{Name: name, Status: HealthStateHealthy, Duration: time.Since(start)}
		if err != nil {
			check.Error = err.Error()
			check.Status = HealthStateUnhealthy
			if isOptional(component) {
				check.Status = HealthStateDegraded
			}
		}
		if check.Status.worse(healthStatus.Status) {
			healthStatus.Status = check.Status
		}

		healthStatus.Components[name] = check.Status
		healthStatus.Checks = append(healthStatus.Checks, check)
	}

	return healthStatus, nil
}

// GetStatus implements Runtime.GetStatus
func (rm *RuntimeManager) GetStatus() *RuntimeStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := &RuntimeStatus{
		State:      rm.state,
		StartedAt:  rm.startedAt,
		Version:    api.Version,
		Components: make(map[string]ComponentStatus),
	}
	if !rm.startedAt.IsZero() {
		status.Uptime = time.Since(rm.startedAt)
	}
	if rm.service != nil {
		status.ActiveRuns = rm.service.RunningProjects()
	}

	for name, component := range rm.components {
		status.Components[name] = component.GetStatus()
	}

	return status
}

// Reload re-reads the configuration file, re-applies binding seeds and
// refreshes the schedule. Other settings take effect on restart.
func (rm *RuntimeManager) Reload(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.logger.WithFields(logger.Fields{
		"operation": "reload",
	}).Info("Reloading IssueSync runtime configuration")

	if err := rm.configManager.Reload(); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	if cfg := rm.configManager.Get(); cfg != nil {
		rm.config = cfg
		rm.serviceComponent.SetSeeds(cfg.Bindings)
	}

	if rm.state == StateRunning {
		rm.serviceComponent.Reseed(ctx)
		if rm.pollerComponent != nil {
			if err := rm.pollerComponent.Refresh(ctx); err != nil {
				return fmt.Errorf("failed to refresh schedule: %w", err)
			}
		}
	}

	rm.logger.WithFields(logger.Fields{
		"operation": "reload",
		"bindings":  len(rm.config.Bindings),
	}).Info("Configuration reloaded successfully")

	return nil
}

// GetConfig returns the current configuration
func (rm *RuntimeManager) GetConfig() *types.Config {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.config
}

// GetService returns the sync service
func (rm *RuntimeManager) GetService() *service.Service {
	return rm.service
}

// GetLogger returns the runtime logger
func (rm *RuntimeManager) GetLogger() *logger.Entry {
	return rm.logger
}
