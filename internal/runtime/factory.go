package runtime

import (
	"errors"
	"fmt"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// DefaultRuntimeFactory implements RuntimeFactory
type DefaultRuntimeFactory struct{}

// NewDefaultRuntimeFactory creates a new DefaultRuntimeFactory
func NewDefaultRuntimeFactory() *DefaultRuntimeFactory {
	return &DefaultRuntimeFactory{}
}

// CreateRuntime implements RuntimeFactory.CreateRuntime
func (f *DefaultRuntimeFactory) CreateRuntime(config *types.Config, loggerManager *logger.Manager) (Runtime, error) {
	return f.CreateRuntimeWithOptions(config, Options{LoggerManager: loggerManager})
}

// CreateRuntimeWithOptions checks that the runtime can start from config
// and builds a RuntimeManager. Every problem found is reported at once.
func (f *DefaultRuntimeFactory) CreateRuntimeWithOptions(config *types.Config, opts Options) (*RuntimeManager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := validateRuntimeConfig(config, opts); err != nil {
		return nil, fmt.Errorf("invalid runtime configuration: %w", err)
	}

	rm, err := NewRuntimeManagerWithOptions(config, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime manager: %w", err)
	}
	return rm, nil
}

// validateRuntimeConfig checks only what the runtime itself needs to boot.
// Injected dependencies in opts waive the settings they replace.
func validateRuntimeConfig(config *types.Config, opts Options) error {
	var problems []error
	require := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	require(config.App.Name != "", "app.name is required")
	require(config.App.DataDir != "", "app.data_dir is required")
	require(config.App.HealthCheckPort >= 0 && config.App.HealthCheckPort <= 65535,
		"app.health_check_port must be between 0 and 65535 (got %d)", config.App.HealthCheckPort)
	if opts.Storage == nil {
		require(config.Storage.SQLite.Path != "", "storage.sqlite.path is required")
	}
	require(config.Sync.Workers > 0, "sync.workers must be positive")
	if config.Scheduler.IsEnabled() {
		require(config.Scheduler.Tick > 0, "scheduler.tick must be positive when the scheduler is enabled")
	}
	if config.Notify.Enabled {
		require(config.Notify.URL != "", "notify.url is required when notify is enabled")
	}

	return errors.Join(problems...)
}
