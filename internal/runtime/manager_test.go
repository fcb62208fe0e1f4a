package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/notify"
	"github.com/johnnynv/issuesync/internal/testutils"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

func newTestRuntime(t *testing.T, cfg *types.Config, opts Options) *RuntimeManager {
	t.Helper()
	if opts.Storage == nil {
		opts.Storage = testutils.NewTestStorage(t)
	}
	if opts.Clients == nil {
		opts.Clients = testutils.NewFakeClientProvider(testutils.NewFakeGitHub("octo", "hello"))
	}
	rm, err := NewRuntimeManagerWithOptions(cfg, opts)
	require.NoError(t, err)
	return rm
}

func seededConfig() *types.Config {
	cfg := testutils.CreateTestConfig()
	cfg.Bindings = []types.BindingSeed{
		{ProjectID: "web", Owner: "octo", Name: "hello", Token: "ghp_runtime_0001"},
	}
	return cfg
}

func TestRuntimeManager_New(t *testing.T) {
	_, err := NewRuntimeManager(nil)
	assert.Error(t, err)

	rm := newTestRuntime(t, seededConfig(), Options{})
	assert.Equal(t, StateUnknown, rm.GetStatus().State)
	assert.NotNil(t, rm.GetLogger())
	assert.Equal(t, "test-issuesync", rm.GetConfig().App.Name)
	assert.NotContains(t, rm.componentOrder, "api_server")
}

func TestRuntimeManager_WithLoggerManager(t *testing.T) {
	loggerManager, err := logger.NewManager(logger.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	rm := newTestRuntime(t, seededConfig(), Options{LoggerManager: loggerManager})
	assert.NotNil(t, rm.GetService())
}

func TestRuntimeManager_StartStop(t *testing.T) {
	ctx := context.Background()
	rm := newTestRuntime(t, seededConfig(), Options{})

	require.NoError(t, rm.Start(ctx))
	assert.Equal(t, StateRunning, rm.GetStatus().State)

	binding, err := rm.GetService().GetRepository(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", binding.FullName)
	assert.True(t, binding.AutoSync)
	assert.Equal(t, 300, binding.SyncInterval)

	health, err := rm.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStateHealthy, health.Status)
	assert.Len(t, health.Checks, len(rm.componentOrder))
	assert.Equal(t, HealthStateHealthy, health.Components["poller"])

	status := rm.GetStatus()
	assert.Greater(t, status.Uptime, time.Duration(0))
	assert.Equal(t, map[string]int{"seeded": 1, "seed_failures": 0}, status.Components["sync_service"].Metrics)

	assert.Error(t, rm.Start(ctx), "second start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, rm.Stop(stopCtx))
	assert.Equal(t, StateStopped, rm.GetStatus().State)
	assert.NoError(t, rm.Stop(stopCtx))
}

func TestRuntimeManager_SchedulerDisabled(t *testing.T) {
	disabled := false
	cfg := seededConfig()
	cfg.Scheduler.Enabled = &disabled

	rm := newTestRuntime(t, cfg, Options{})
	assert.NotContains(t, rm.componentOrder, "poller")
	assert.Nil(t, rm.pollerComponent)
}

func TestRuntimeManager_APIServerComponent(t *testing.T) {
	cfg := seededConfig()
	cfg.App.HealthCheckPort = 18931

	rm := newTestRuntime(t, cfg, Options{})
	assert.Equal(t, "api_server", rm.componentOrder[len(rm.componentOrder)-1])
}

func TestRuntimeManager_StartFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewMockStorage()
	store.On("Initialize", ctx).Return(assert.AnError)

	rm := newTestRuntime(t, seededConfig(), Options{Storage: store})
	err := rm.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage")
	assert.Equal(t, StateError, rm.GetStatus().State)
	assert.Equal(t, StateStopped, rm.GetStatus().Components["config"].State)
}

func TestRuntimeManager_Reload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "issuesync.yaml")

	write := func(bindings string) {
		body := `
app:
  name: issuesync-reload
  log_level: error
  data_dir: ` + filepath.Join(dir, "data") + `
storage:
  sqlite:
    path: ":memory:"
scheduler:
  tick: 1s
bindings:
` + bindings
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	}

	write(strings.Join([]string{
		"  - project_id: web",
		"    owner: octo",
		"    name: hello",
		"    token: ghp_reload_0001",
	}, "\n") + "\n")

	manager := config.NewManager(logger.GetDefaultLogger())
	require.NoError(t, manager.Load(path))

	hello := testutils.NewFakeGitHub("octo", "hello")
	world := testutils.NewFakeGitHub("octo", "world")
	rm := newTestRuntime(t, manager.Get(), Options{
		ConfigManager: manager,
		Clients:       testutils.NewFakeClientProvider(hello, world),
	})

	require.NoError(t, rm.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = rm.Stop(stopCtx)
	}()

	_, err := rm.GetService().GetRepository(ctx, "docs")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	write(strings.Join([]string{
		"  - project_id: web",
		"    owner: octo",
		"    name: hello",
		"    token: ghp_reload_0001",
		"  - project_id: docs",
		"    owner: octo",
		"    name: world",
		"    token: ghp_reload_0002",
		"    sync_interval: 120",
	}, "\n") + "\n")

	require.NoError(t, rm.Reload(ctx))
	assert.Len(t, rm.GetConfig().Bindings, 2)

	docs, err := rm.GetService().GetRepository(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "octo/world", docs.FullName)
	assert.Equal(t, 120, docs.SyncInterval)
}

func TestRuntimeManager_NotifierDeliversSyncEvents(t *testing.T) {
	received := make(chan notify.SyncData, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data notify.SyncData
		if err := json.NewDecoder(r.Body).Decode(&data); err == nil {
			received <- data
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := seededConfig()
	cfg.Notify = types.NotifyConfig{
		Enabled:   true,
		URL:       server.URL,
		Timeout:   time.Second,
		QueueSize: 4,
		Retry:     types.NotifyRetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	rm := newTestRuntime(t, cfg, Options{})
	assert.Equal(t, []string{"config", "storage", "git_client", "notifier", "sync_service", "poller"}, rm.componentOrder)

	ctx := context.Background()
	require.NoError(t, rm.Start(ctx))

	_, err := rm.GetService().SyncBidirectional(ctx, "web", types.DefaultSyncOptions(""))
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "web", data.ProjectID)
		assert.True(t, data.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("sync event was not delivered")
	}

	health, err := rm.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStateHealthy, health.Components["notifier"])
	require.NoError(t, rm.Stop(ctx))
}

// flakyComponent always fails its health check
type flakyComponent struct {
	BaseComponent
	optional bool
}

func (c *flakyComponent) Start(ctx context.Context) error  { return nil }
func (c *flakyComponent) Stop(ctx context.Context) error   { return nil }
func (c *flakyComponent) Health(ctx context.Context) error { return assert.AnError }
func (c *flakyComponent) Optional() bool                   { return c.optional }

func TestRuntimeManager_HealthDegradedByOptionalComponent(t *testing.T) {
	ctx := context.Background()
	rm := newTestRuntime(t, seededConfig(), Options{})

	optional := &flakyComponent{optional: true}
	optional.init("flaky_optional", rm.logger)
	rm.addComponent("flaky_optional", optional)

	health, err := rm.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStateDegraded, health.Status)
	assert.Equal(t, HealthStateDegraded, health.Components["flaky_optional"])

	required := &flakyComponent{}
	required.init("flaky_required", rm.logger)
	rm.addComponent("flaky_required", required)

	health, err = rm.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStateUnhealthy, health.Status)
	assert.Empty(t, rm.GetStatus().ActiveRuns)
}

func TestHealthState_Worse(t *testing.T) {
	assert.True(t, HealthStateDegraded.worse(HealthStateHealthy))
	assert.True(t, HealthStateUnhealthy.worse(HealthStateDegraded))
	assert.False(t, HealthStateDegraded.worse(HealthStateUnhealthy))
	assert.False(t, HealthStateHealthy.worse(HealthStateHealthy))
}
