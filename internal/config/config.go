package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
	"github.com/johnnynv/issuesync/pkg/utils"
)

// Manager holds the live configuration. Readers get copies so a reload
// never mutates a config another goroutine is using.
type Manager struct {
	mu         sync.RWMutex
	config     *types.Config
	configPath string

	loader    *Loader
	validator *Validator
	logger    *logger.Entry
}

func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		loader:    NewLoader(),
		validator: NewValidator(),
		logger:    log.WithComponent("config"),
	}
}

// Load reads, validates and installs the file at configPath
func (m *Manager) Load(configPath string) error {
	config, err := m.loader.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := m.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := ensureWritableDir(config.App.DataDir); err != nil {
		return fmt.Errorf("failed to prepare data directory: %w", err)
	}

	m.mu.Lock()
	m.config, m.configPath = config, configPath
	m.mu.Unlock()

	m.logger.WithFields(logger.Fields{
		"path":     configPath,
		"bindings": len(config.Bindings),
	}).Info("Configuration loaded")
	return nil
}

// Reload re-reads the file the manager was loaded from. A manager that was
// only given a config in code has nothing to reload.
func (m *Manager) Reload() error {
	path := m.GetConfigPath()
	if path == "" {
		m.logger.Debug("No configuration file to reload")
		return nil
	}
	m.logger.WithField("path", path).Info("Reloading configuration")
	return m.Load(path)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *types.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	clone := *m.config
	clone.Bindings = slices.Clone(m.config.Bindings)
	clone.Security.AllowedEnvVars = slices.Clone(m.config.Security.AllowedEnvVars)
	return &clone
}

// GetBindingSeeds returns the bindings declared in the file
func (m *Manager) GetBindingSeeds() []types.BindingSeed {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	return slices.Clone(m.config.Bindings)
}

// SetConfig installs a configuration built in code, keeping the file path
// so a later Reload still reads from disk
func (m *Manager) SetConfig(config *types.Config) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	m.logger.WithField("bindings", len(config.Bindings)).Debug("Configuration set programmatically")
}

func (m *Manager) GetConfigPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// Validate checks a file without installing it
func (m *Manager) Validate(configPath string) error {
	config, err := m.loader.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration for validation: %w", err)
	}
	return m.validator.Validate(config)
}

// CheckTokens reports seed tokens still holding a ${VAR} reference after
// expansion
func (m *Manager) CheckTokens() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	expander := utils.NewEnvExpander(m.config.Security.AllowedEnvVars)
	var missing []string
	for _, seed := range m.config.Bindings {
		for _, name := range expander.Unresolved(seed.Token) {
			missing = append(missing, fmt.Sprintf("environment variable '%s' for project '%s'", name, seed.ProjectID))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required tokens: %v", missing)
	}
	return nil
}

// ensureWritableDir creates dir and proves a file can be written there
func ensureWritableDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return err
	}

	probe, err := os.CreateTemp(abs, ".write-test-*")
	if err != nil {
		return fmt.Errorf("data directory is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// GetLoggerConfig derives the logger settings from the loaded configuration
func (m *Manager) GetLoggerConfig() logger.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LoggerConfigFor(m.config)
}

// LoggerConfigFor maps app.log_* settings onto a logger config. A nil cfg
// yields logger.DefaultConfig.
func LoggerConfigFor(cfg *types.Config) logger.Config {
	logConfig := logger.DefaultConfig()
	if cfg == nil {
		return logConfig
	}
	if cfg.App.LogLevel != "" {
		logConfig.Level = cfg.App.LogLevel
	}
	if cfg.App.LogFormat != "" {
		logConfig.Format = cfg.App.LogFormat
	}
	if cfg.App.LogFile != "" {
		logConfig.Output = cfg.App.LogFile
		logConfig.File = logger.FileConfig{
			MaxSize:    cfg.App.LogFileRotation.MaxSize,
			MaxBackups: cfg.App.LogFileRotation.MaxBackups,
			MaxAge:     cfg.App.LogFileRotation.MaxAge,
			Compress:   cfg.App.LogFileRotation.Compress,
		}
	}
	return logConfig
}
