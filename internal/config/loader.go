package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnnynv/issuesync/pkg/types"
	"github.com/johnnynv/issuesync/pkg/utils"
)

// DefaultAllowedEnvVars are the variables ${VAR} references may expand
var DefaultAllowedEnvVars = []string{"ISSUESYNC_*", "GITHUB_*"}

// ErrConfigNotFound is returned when the configuration file does not exist
var ErrConfigNotFound = errors.New("configuration file not found")

// Loader turns YAML documents into a defaulted *types.Config.
type Loader struct {
	strict bool
}

// NewLoader creates a loader that ignores unknown keys
func NewLoader() *Loader {
	return &Loader{}
}

// Strict makes the loader reject keys that map to no configuration field.
func (l *Loader) Strict() *Loader {
	return &Loader{strict: true}
}

// LoadFromFile loads configuration from a YAML file
func (l *Loader) LoadFromFile(filePath string) (*types.Config, error) {
	content, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return l.LoadFromBytes(content)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader) (*types.Config, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return l.LoadFromBytes(content)
}

// LoadFromBytes parses YAML, expands allowed ${VAR} references and applies
// defaults. The security.allowed_env_vars list is read before anything is
// expanded so a document cannot widen its own allow list through a variable.
func (l *Loader) LoadFromBytes(content []byte) (*types.Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	allowed, err := allowedEnvVars(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read security.allowed_env_vars: %w", err)
	}

	expanded, err := utils.NewEnvExpander(allowed).ExpandMap(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config types.Config
	if err := l.decode(expanded, &config); err != nil {
		return nil, err
	}

	ApplyDefaults(&config)
	return &config, nil
}

func (l *Loader) decode(doc map[string]interface{}, out *types.Config) error {
	encoded, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-encode configuration: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(encoded))
	decoder.KnownFields(l.strict)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

func allowedEnvVars(raw map[string]interface{}) ([]string, error) {
	section, ok := raw["security"]
	if !ok {
		return append([]string(nil), DefaultAllowedEnvVars...), nil
	}

	encoded, err := yaml.Marshal(section)
	if err != nil {
		return nil, err
	}
	var security types.SecurityConfig
	if err := yaml.Unmarshal(encoded, &security); err != nil {
		return nil, err
	}
	if len(security.AllowedEnvVars) == 0 {
		return append([]string(nil), DefaultAllowedEnvVars...), nil
	}
	return security.AllowedEnvVars, nil
}

// LoadWithDefaults loads configuration, falling back to pure defaults only
// when the file does not exist. Parse and expansion failures are returned.
func (l *Loader) LoadWithDefaults(filePath string) (*types.Config, error) {
	if filePath != "" {
		config, err := l.LoadFromFile(filePath)
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
	}

	config := &types.Config{}
	ApplyDefaults(config)
	return config, nil
}

// Validate validates loaded configuration
func (l *Loader) Validate(config *types.Config) error {
	return NewValidator().Validate(config)
}

// ApplyDefaults fills every unset field with its default
func ApplyDefaults(config *types.Config) {
	for _, apply := range sectionDefaults {
		apply(config)
	}
}

var sectionDefaults = []func(*types.Config){
	appDefaults,
	storageDefaults,
	githubDefaults,
	syncDefaults,
	notifyDefaults,
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func appDefaults(c *types.Config) {
	setDefault(&c.App.Name, "issuesync")
	setDefault(&c.App.LogLevel, "info")
	setDefault(&c.App.LogFormat, "json")
	setDefault(&c.App.HealthCheckPort, 8080)
	setDefault(&c.App.DataDir, "./data")

	if len(c.Security.AllowedEnvVars) == 0 {
		c.Security.AllowedEnvVars = append([]string(nil), DefaultAllowedEnvVars...)
	}
}

func storageDefaults(c *types.Config) {
	sqlite := &c.Storage.SQLite
	setDefault(&c.Storage.Type, "sqlite")
	setDefault(&sqlite.Path, filepath.Join(c.App.DataDir, "issuesync.db"))
	setDefault(&sqlite.MaxConnections, 10)
	setDefault(&sqlite.ConnectionTimeout, 30*time.Second)
}

func githubDefaults(c *types.Config) {
	gh := &c.GitHub
	setDefault(&gh.BaseURL, "https://api.github.com")
	setDefault(&gh.Timeout, 30*time.Second)
	setDefault(&gh.RetryAttempts, 5)
	setDefault(&gh.RetryBackoff, time.Second)
	setDefault(&gh.UserAgent, "IssueSync/1.0")
	setDefault(&gh.RateLimitMargin, 10)
	setDefault(&gh.RequestsPerHour, 4000)
	setDefault(&gh.Burst, 10)
}

func syncDefaults(c *types.Config) {
	setDefault(&c.Sync.Workers, 5)
	setDefault(&c.Sync.RunTimeout, 5*time.Minute)
	setDefault(&c.Sync.DefaultInterval, types.DefaultSyncInterval)
	setDefault(&c.Sync.ValidationTTL, 15*time.Minute)
	setDefault(&c.Scheduler.Tick, 30*time.Second)
}

func notifyDefaults(c *types.Config) {
	n := &c.Notify
	setDefault(&n.Timeout, 10*time.Second)
	setDefault(&n.QueueSize, 100)
	setDefault(&n.Retry.MaxAttempts, 3)
	setDefault(&n.Retry.InitialDelay, time.Second)
	setDefault(&n.Retry.MaxDelay, 30*time.Second)
}
