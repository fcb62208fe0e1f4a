package types

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	App       AppConfig       `yaml:"app" json:"app"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	GitHub    GitHubConfig    `yaml:"github" json:"github"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Bindings  []BindingSeed   `yaml:"bindings,omitempty" json:"bindings,omitempty"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name            string        `yaml:"name" json:"name"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	LogFormat       string        `yaml:"log_format" json:"log_format"`
	LogFile         string        `yaml:"log_file" json:"log_file,omitempty"`
	LogFileRotation LogFileConfig `yaml:"log_file_rotation" json:"log_file_rotation,omitempty"`
	HealthCheckPort int           `yaml:"health_check_port" json:"health_check_port"`
	DataDir         string        `yaml:"data_dir" json:"data_dir"`
}

// LogFileConfig represents log file rotation configuration
type LogFileConfig struct {
	MaxSize    int  `yaml:"max_size" json:"max_size"`       // MB
	MaxBackups int  `yaml:"max_backups" json:"max_backups"` // number of backup files
	MaxAge     int  `yaml:"max_age" json:"max_age"`         // days
	Compress   bool `yaml:"compress" json:"compress"`       // compress rotated files
}

// StorageConfig represents storage configuration
type StorageConfig struct {
	Type   string       `yaml:"type" json:"type"`
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path              string        `yaml:"path" json:"path"`
	MaxConnections    int           `yaml:"max_connections" json:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// GitHubConfig configures the remote issue client
type GitHubConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	RateLimitMargin int           `yaml:"rate_limit_margin" json:"rate_limit_margin"`
	RequestsPerHour int           `yaml:"requests_per_hour" json:"requests_per_hour"`
	Burst           int           `yaml:"burst" json:"burst"`
}

// SyncConfig configures the reconciliation engine
type SyncConfig struct {
	Workers         int           `yaml:"workers" json:"workers"`
	RunTimeout      time.Duration `yaml:"run_timeout" json:"run_timeout"`
	DefaultInterval int           `yaml:"default_interval" json:"default_interval"` // seconds
	ValidationTTL   time.Duration `yaml:"validation_ttl" json:"validation_ttl"`
}

// SchedulerConfig configures the autoSync scheduler
type SchedulerConfig struct {
	Enabled *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Tick    time.Duration `yaml:"tick" json:"tick"`
}

// IsEnabled reports whether scheduled runs are on. Unset means on.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SecurityConfig represents security-related configuration
type SecurityConfig struct {
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars"`
	RequireHTTPS   bool     `yaml:"require_https" json:"require_https"`
}

// NotifyConfig configures the outbound sync event webhook
type NotifyConfig struct {
	Enabled            bool              `yaml:"enabled" json:"enabled"`
	URL                string            `yaml:"url" json:"url"`
	Headers            map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	AuthToken          string            `yaml:"auth_token,omitempty" json:"-"`
	Timeout            time.Duration     `yaml:"timeout" json:"timeout"`
	QueueSize          int               `yaml:"queue_size" json:"queue_size"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	Retry              NotifyRetryConfig `yaml:"retry" json:"retry"`
}

// NotifyRetryConfig bounds redelivery of one event
type NotifyRetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// BindingSeed describes a repository binding declared in the config file.
// Seeds go through validate and configure at startup like any other binding.
type BindingSeed struct {
	ProjectID    string `yaml:"project_id" json:"project_id"`
	Owner        string `yaml:"owner" json:"owner"`
	Name         string `yaml:"name" json:"name"`
	Token        string `yaml:"token" json:"-"`
	AutoSync     *bool  `yaml:"auto_sync,omitempty" json:"auto_sync,omitempty"`
	SyncInterval int    `yaml:"sync_interval,omitempty" json:"sync_interval,omitempty"`
}
