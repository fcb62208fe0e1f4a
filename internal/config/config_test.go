package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "DATA_DIR", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "issuesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const sampleConfig = `
app:
  name: issuesync-test
  log_level: debug
  data_dir: DATA_DIR
github:
  timeout: 10s
sync:
  workers: 3
scheduler:
  enabled: false
  tick: 15s
bindings:
  - project_id: web
    owner: octo
    name: hello
    token: ${GITHUB_TOKEN}
    sync_interval: 600
  - project_id: api
    owner: octo
    name: api
    token: ${ISSUESYNC_API_TOKEN}
    auto_sync: false
`

func TestConfigManager_Load(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_from_env")
	t.Setenv("ISSUESYNC_API_TOKEN", "ghp_api")

	manager := NewManager(logger.GetDefaultLogger())
	path := writeConfig(t, sampleConfig)
	require.NoError(t, manager.Load(path))

	config := manager.Get()
	require.NotNil(t, config)
	assert.Equal(t, "issuesync-test", config.App.Name)
	assert.Equal(t, 10*time.Second, config.GitHub.Timeout)
	assert.Equal(t, 3, config.Sync.Workers)
	assert.False(t, config.Scheduler.IsEnabled())
	assert.Equal(t, 15*time.Second, config.Scheduler.Tick)
	assert.Equal(t, path, manager.GetConfigPath())

	seeds := manager.GetBindingSeeds()
	require.Len(t, seeds, 2)
	assert.Equal(t, "ghp_from_env", seeds[0].Token)
	assert.Equal(t, 600, seeds[0].SyncInterval)
	require.NotNil(t, seeds[1].AutoSync)
	assert.False(t, *seeds[1].AutoSync)
	assert.NoError(t, manager.CheckTokens())
}

func TestConfigManager_CheckTokens(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_from_env")

	manager := NewManager(logger.GetDefaultLogger())
	require.NoError(t, manager.Load(writeConfig(t, sampleConfig)))

	err := manager.CheckTokens()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ISSUESYNC_API_TOKEN")
	assert.NotContains(t, err.Error(), "ghp_from_env")
}

func TestConfigManager_LoadWithDefaults(t *testing.T) {
	manager := NewManager(logger.GetDefaultLogger())
	dataDir := filepath.Join(t.TempDir(), "data")

	loader := NewLoader()
	config, err := loader.LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	config.App.DataDir = dataDir
	manager.SetConfig(config)

	got := manager.Get()
	assert.Equal(t, "issuesync", got.App.Name)
	assert.Equal(t, "info", got.App.LogLevel)
	assert.Equal(t, "https://api.github.com", got.GitHub.BaseURL)
	assert.Equal(t, 5, got.Sync.Workers)
	assert.Equal(t, 5*time.Minute, got.Sync.RunTimeout)
	assert.Equal(t, types.DefaultSyncInterval, got.Sync.DefaultInterval)
	assert.True(t, got.Scheduler.IsEnabled())
	assert.Equal(t, []string{"ISSUESYNC_*", "GITHUB_*"}, got.Security.AllowedEnvVars)
	assert.Empty(t, manager.GetConfigPath())
	assert.NoError(t, manager.Reload())
}

func TestConfigManager_GetReturnsCopy(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_a")
	t.Setenv("ISSUESYNC_API_TOKEN", "ghp_b")

	manager := NewManager(logger.GetDefaultLogger())
	require.NoError(t, manager.Load(writeConfig(t, sampleConfig)))

	config := manager.Get()
	config.App.Name = "changed"
	config.Bindings[0].Owner = "someone-else"

	fresh := manager.Get()
	assert.Equal(t, "issuesync-test", fresh.App.Name)
	assert.Equal(t, "octo", fresh.Bindings[0].Owner)
}

func TestConfigManager_GetLoggerConfig(t *testing.T) {
	manager := NewManager(logger.GetDefaultLogger())
	assert.Equal(t, "stdout", manager.GetLoggerConfig().Output)

	config := &types.Config{}
	ApplyDefaults(config)
	config.App.LogFile = "/tmp/issuesync.log"
	config.App.LogFileRotation.MaxSize = 50
	manager.SetConfig(config)

	logConfig := manager.GetLoggerConfig()
	assert.Equal(t, "/tmp/issuesync.log", logConfig.Output)
	assert.Equal(t, 50, logConfig.File.MaxSize)
}

func TestConfigManager_ValidateFile(t *testing.T) {
	manager := NewManager(logger.GetDefaultLogger())

	assert.Error(t, manager.Validate(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := writeConfig(t, `
app:
  log_level: loud
  data_dir: DATA_DIR
sync:
  default_interval: 10
`)
	err := manager.Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.log_level")
	assert.Contains(t, err.Error(), "sync.default_interval")
}

func TestValidator_Bindings(t *testing.T) {
	base := func() *types.Config {
		config := &types.Config{}
		ApplyDefaults(config)
		return config
	}

	tests := []struct {
		name   string
		seeds  []types.BindingSeed
		fields []string
	}{
		{
			name:  "valid seed",
			seeds: []types.BindingSeed{{ProjectID: "p1", Owner: "octo", Name: "hello", Token: "ghp_x"}},
		},
		{
			name: "duplicate project",
			seeds: []types.BindingSeed{
				{ProjectID: "p1", Owner: "octo", Name: "a", Token: "t"},
				{ProjectID: "p1", Owner: "octo", Name: "b", Token: "t"},
			},
			fields: []string{"bindings[1].project_id"},
		},
		{
			name:   "missing fields",
			seeds:  []types.BindingSeed{{}},
			fields: []string{"bindings[0].project_id", "bindings[0].owner", "bindings[0].name", "bindings[0].token"},
		},
		{
			name:   "interval out of range",
			seeds:  []types.BindingSeed{{ProjectID: "p1", Owner: "octo", Name: "hello", Token: "t", SyncInterval: 30}},
			fields: []string{"bindings[0].sync_interval"},
		},
		{
			name:   "slash in name",
			seeds:  []types.BindingSeed{{ProjectID: "p1", Owner: "octo", Name: "a/b", Token: "t"}},
			fields: []string{"bindings[0].name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base()
			config.Bindings = tt.seeds
			err := NewValidator().Validate(config)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			var got []string
			for _, e := range verrs {
				got = append(got, e.Field)
			}
			for _, field := range tt.fields {
				assert.Contains(t, got, field)
			}
		})
	}
}

func TestValidator_GitHubRequiresHTTPS(t *testing.T) {
	config := &types.Config{}
	ApplyDefaults(config)
	config.GitHub.BaseURL = "http://ghe.internal/api/v3"
	config.Security.RequireHTTPS = true
	assert.Error(t, NewValidator().Validate(config))

	config.Security.RequireHTTPS = false
	assert.NoError(t, NewValidator().Validate(config))
}

func TestLoader_DisallowedVariableStaysLiteral(t *testing.T) {
	t.Setenv("HOME_TOKEN", "should-not-expand")

	config, err := NewLoader().LoadFromBytes([]byte(`
bindings:
  - project_id: p1
    owner: octo
    name: hello
    token: ${HOME_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "${HOME_TOKEN}", config.Bindings[0].Token)
}

func TestValidator_Notify(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*types.NotifyConfig)
		wantField string
	}{
		{name: "disabled ignores empty url", mutate: func(n *types.NotifyConfig) { n.Enabled = false; n.URL = "" }},
		{name: "valid", mutate: func(n *types.NotifyConfig) {}},
		{name: "missing url", mutate: func(n *types.NotifyConfig) { n.URL = "" }, wantField: "notify.url"},
		{name: "bad scheme", mutate: func(n *types.NotifyConfig) { n.URL = "ftp://hooks.example.com" }, wantField: "notify.url"},
		{name: "zero attempts", mutate: func(n *types.NotifyConfig) { n.Retry.MaxAttempts = -1 }, wantField: "notify.retry.max_attempts"},
		{name: "inverted delays", mutate: func(n *types.NotifyConfig) { n.Retry.MaxDelay = time.Millisecond }, wantField: "notify.retry.max_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &types.Config{}
			ApplyDefaults(config)
			config.Notify.Enabled = true
			config.Notify.URL = "https://hooks.example.com/issuesync"
			tt.mutate(&config.Notify)

			err := NewValidator().Validate(config)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestLoader_NotifyDefaultsAndTokenExpansion(t *testing.T) {
	t.Setenv("ISSUESYNC_HOOK_TOKEN", "hook-secret")

	config, err := NewLoader().LoadFromBytes([]byte(`
notify:
  enabled: true
  url: https://hooks.example.com/issuesync
  auth_token: ${ISSUESYNC_HOOK_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "hook-secret", config.Notify.AuthToken)
	assert.Equal(t, 10*time.Second, config.Notify.Timeout)
	assert.Equal(t, 100, config.Notify.QueueSize)
	assert.Equal(t, 3, config.Notify.Retry.MaxAttempts)
	assert.NoError(t, NewValidator().Validate(config))
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoader_LoadWithDefaultsKeepsParseErrors(t *testing.T) {
	path := writeConfig(t, "app: [unterminated")

	_, err := NewLoader().LoadWithDefaults(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigNotFound)
}

func TestLoader_StrictRejectsUnknownKeys(t *testing.T) {
	doc := []byte(`
app:
  name: issuesync
  log_levle: debug
`)

	config, err := NewLoader().LoadFromBytes(doc)
	require.NoError(t, err)
	assert.Equal(t, "info", config.App.LogLevel)

	_, err = NewLoader().Strict().LoadFromBytes(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_levle")
}

func TestLoader_EnvFallback(t *testing.T) {
	config, err := NewLoader().LoadFromBytes([]byte(`
app:
  log_level: ${ISSUESYNC_TEST_UNSET_LEVEL:-warn}
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", config.App.LogLevel)
}

func TestLoader_SecurityCannotExpandItself(t *testing.T) {
	t.Setenv("ISSUESYNC_EXTRA", "HOME")

	config, err := NewLoader().LoadFromBytes([]byte(`
security:
  allowed_env_vars: ["${ISSUESYNC_EXTRA}"]
bindings:
  - project_id: p1
    owner: octo
    name: hello
    token: ${ISSUESYNC_EXTRA}
`))
	require.NoError(t, err)
	assert.Equal(t, "${ISSUESYNC_EXTRA}", config.Bindings[0].Token)
}
