package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass, in document order.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

// Validator checks a loaded configuration. It holds no state and is safe
// to share.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every section and returns all problems at once
func (v *Validator) Validate(config *types.Config) error {
	p := &problems{}
	requireHTTPS := config.Security.RequireHTTPS

	checkApp(p, &config.App)
	checkStorage(p, &config.Storage)
	checkGitHub(p, &config.GitHub, requireHTTPS)
	checkSync(p, &config.Sync, &config.Scheduler)
	checkSecurity(p, &config.Security)
	checkNotify(p, &config.Notify, requireHTTPS)
	checkBindings(p, config.Bindings)

	if len(p.errs) == 0 {
		return nil
	}
	return p.errs
}

type problems struct {
	errs ValidationErrors
}

func (p *problems) add(field string, value interface{}, message string) {
	p.errs = append(p.errs, ValidationError{Field: field, Value: fmt.Sprint(value), Message: message})
}

func (p *problems) required(field, value, what string) bool {
	if strings.TrimSpace(value) == "" {
		p.add(field, value, what+" is required")
		return false
	}
	return true
}

func (p *problems) oneOf(field, value string, allowed ...string) {
	if value != "" && !slices.Contains(allowed, value) {
		p.add(field, value, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
	}
}

func (p *problems) url(field, raw string, requireHTTPS bool) {
	if err := checkURL(raw, requireHTTPS); err != nil {
		p.add(field, raw, err.Error())
	}
}

func positive[T int | time.Duration](p *problems, field string, value T) {
	if value <= 0 {
		p.add(field, value, "must be positive")
	}
}

func checkApp(p *problems, app *types.AppConfig) {
	p.required("app.name", app.Name, "application name")
	p.oneOf("app.log_level", app.LogLevel, "debug", "info", "warn", "error")
	p.oneOf("app.log_format", app.LogFormat, "json", "text")
	if app.HealthCheckPort <= 0 || app.HealthCheckPort > 65535 {
		p.add("app.health_check_port", app.HealthCheckPort, "invalid port number")
	}
	p.required("app.data_dir", app.DataDir, "data directory")
}

func checkStorage(p *problems, storage *types.StorageConfig) {
	if !p.required("storage.type", storage.Type, "storage type") {
		return
	}
	if storage.Type != "sqlite" {
		p.add("storage.type", storage.Type, "only sqlite storage is supported")
		return
	}

	p.required("storage.sqlite.path", storage.SQLite.Path, "SQLite database path")
	positive(p, "storage.sqlite.max_connections", storage.SQLite.MaxConnections)
	positive(p, "storage.sqlite.connection_timeout", storage.SQLite.ConnectionTimeout)
}

func checkGitHub(p *problems, gh *types.GitHubConfig, requireHTTPS bool) {
	if p.required("github.base_url", gh.BaseURL, "GitHub API base URL") {
		p.url("github.base_url", gh.BaseURL, requireHTTPS)
	}

	positive(p, "github.timeout", gh.Timeout)
	positive(p, "github.retry_backoff", gh.RetryBackoff)
	positive(p, "github.requests_per_hour", gh.RequestsPerHour)
	positive(p, "github.burst", gh.Burst)
	if gh.RetryAttempts < 0 {
		p.add("github.retry_attempts", gh.RetryAttempts, "cannot be negative")
	}
	if gh.RateLimitMargin < 0 {
		p.add("github.rate_limit_margin", gh.RateLimitMargin, "cannot be negative")
	}
}

func checkSync(p *problems, sync *types.SyncConfig, scheduler *types.SchedulerConfig) {
	positive(p, "sync.workers", sync.Workers)
	positive(p, "sync.run_timeout", sync.RunTimeout)
	positive(p, "sync.validation_ttl", sync.ValidationTTL)
	if !validInterval(sync.DefaultInterval) {
		p.add("sync.default_interval", sync.DefaultInterval, intervalMessage("default interval"))
	}
	positive(p, "scheduler.tick", scheduler.Tick)
}

func checkSecurity(p *problems, security *types.SecurityConfig) {
	if len(security.AllowedEnvVars) == 0 {
		p.add("security.allowed_env_vars", "[]", "at least one allowed environment variable is required")
	}
}

func checkNotify(p *problems, notify *types.NotifyConfig, requireHTTPS bool) {
	if !notify.Enabled {
		return
	}
	if p.required("notify.url", notify.URL, "url") {
		p.url("notify.url", notify.URL, requireHTTPS)
	}
	positive(p, "notify.timeout", notify.Timeout)
	positive(p, "notify.queue_size", notify.QueueSize)
	positive(p, "notify.retry.max_attempts", notify.Retry.MaxAttempts)
	if notify.Retry.MaxDelay < notify.Retry.InitialDelay {
		p.add("notify.retry.max_delay", notify.Retry.MaxDelay, "max delay must not be shorter than initial delay")
	}
}

// checkBindings checks the seed list. Tokens only need to be present; an
// unexpanded ${VAR} is reported by Manager.CheckTokens.
func checkBindings(p *problems, bindings []types.BindingSeed) {
	seen := make(map[string]bool, len(bindings))

	for i, seed := range bindings {
		field := func(name string) string { return fmt.Sprintf("bindings[%d].%s", i, name) }

		if p.required(field("project_id"), seed.ProjectID, "project id") {
			if seen[seed.ProjectID] {
				p.add(field("project_id"), seed.ProjectID, "project id must be unique")
			}
			seen[seed.ProjectID] = true
		}

		p.required(field("owner"), seed.Owner, "repository owner")
		p.required(field("name"), seed.Name, "repository name")
		if strings.Contains(seed.Owner, "/") || strings.Contains(seed.Name, "/") {
			p.add(field("name"), seed.Owner+"/"+seed.Name, "owner and name must not contain '/'")
		}
		if seed.Token == "" {
			p.add(field("token"), "", "repository token is required")
		}
		if seed.SyncInterval != 0 && !validInterval(seed.SyncInterval) {
			p.add(field("sync_interval"), seed.SyncInterval, intervalMessage("sync interval"))
		}
	}
}

func validInterval(seconds int) bool {
	return seconds >= types.MinSyncInterval && seconds <= types.MaxSyncInterval
}

func intervalMessage(what string) string {
	return fmt.Sprintf("%s must be between %d and %d seconds", what, types.MinSyncInterval, types.MaxSyncInterval)
}

func checkURL(raw string, requireHTTPS bool) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	switch {
	case err != nil:
		return fmt.Errorf("invalid URL format: %w", err)
	case parsed.Scheme != "https" && parsed.Scheme != "http":
		return fmt.Errorf("URL scheme must be http or https")
	case requireHTTPS && parsed.Scheme != "https":
		return fmt.Errorf("URL must use https")
	case parsed.Host == "":
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
