package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// BaseTestSuite gives each test a fresh in-memory store, an empty fake
// GitHub repository and a quiet logger
type BaseTestSuite struct {
	suite.Suite

	Ctx    context.Context
	Logger *logger.Entry
	Store  *storage.SQLiteStorage
	GitHub *FakeGitHub

	cancel        context.CancelFunc
	loggerManager *logger.Manager
}

func (s *BaseTestSuite) SetupSuite() {
	manager, err := logger.NewManager(logger.Config{Level: "error", Format: "json", Output: "stderr"})
	s.Require().NoError(err, "logger manager")
	s.loggerManager = manager
}

func (s *BaseTestSuite) TearDownSuite() {
	if s.loggerManager != nil {
		_ = s.loggerManager.Close()
	}
}

func (s *BaseTestSuite) SetupTest() {
	s.Ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	s.Logger = s.loggerManager.ForComponent("test").WithField("test", s.T().Name())
	s.Store = NewTestStorage(s.T())
	s.GitHub = NewFakeGitHub("octo", "hello")
}

func (s *BaseTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
}

// LoggerManager returns the suite's logger manager
func (s *BaseTestSuite) LoggerManager() *logger.Manager {
	return s.loggerManager
}

// SeedBinding stores an active binding of projectID to the fake repository
func (s *BaseTestSuite) SeedBinding(projectID string) *types.RepositoryBinding {
	binding := &types.RepositoryBinding{
		ProjectID:    projectID,
		Owner:        s.GitHub.Repository.Owner,
		Name:         s.GitHub.Repository.Name,
		FullName:     s.GitHub.Repository.FullName,
		Token:        "test-token",
		SyncInterval: 300,
		IsActive:     true,
	}
	s.Require().NoError(s.Store.SaveBinding(s.Ctx, binding))
	return binding
}

// ClientProvider serves the suite's fake for any binding
func (s *BaseTestSuite) ClientProvider() *FakeClientProvider {
	return NewFakeClientProvider(s.GitHub)
}

// CreateTestConfig creates a minimal test configuration
func CreateTestConfig() *types.Config {
	autoSync := true
	return &types.Config{
		App: types.AppConfig{
			Name:     "test-issuesync",
			LogLevel: "error",
			DataDir:  "/tmp/issuesync-test",
		},
		Storage: types.StorageConfig{
			Type: "sqlite",
			SQLite: types.SQLiteConfig{
				Path:              ":memory:",
				MaxConnections:    5,
				ConnectionTimeout: 30 * time.Second,
			},
		},
		GitHub: types.GitHubConfig{
			BaseURL:         "https://api.github.com/",
			Timeout:         5 * time.Second,
			RetryAttempts:   5,
			RetryBackoff:    10 * time.Millisecond,
			UserAgent:       "IssueSync-Test/1.0",
			RateLimitMargin: 10,
			RequestsPerHour: 3600000,
			Burst:           100,
		},
		Sync: types.SyncConfig{
			Workers:         5,
			RunTimeout:      time.Minute,
			DefaultInterval: 300,
			ValidationTTL:   15 * time.Minute,
		},
		Scheduler: types.SchedulerConfig{
			Tick: time.Second,
		},
		Bindings: []types.BindingSeed{
			{
				ProjectID: "test-project",
				Owner:     "test",
				Name:      "repo",
				Token:     "test-token",
				AutoSync:  &autoSync,
			},
		},
	}
}

// NewTestLogger returns a logger entry that only prints errors
func NewTestLogger(t testing.TB) *logger.Entry {
	t.Helper()
	testLogger, err := logger.NewLogger(logger.Config{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return testLogger.WithField("test", t.Name())
}

// NewTestStorage returns an initialized in-memory sqlite store that is
// closed when the test ends
func NewTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(&types.SQLiteConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize test storage: %v", err)
	}
	return store
}
