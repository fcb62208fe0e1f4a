// Package service is the inbound facade over bindings, sync runs and the
// local issue store. The HTTP API, the scheduler and the CLI all go
// through it.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/binding"
	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/notify"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/internal/syncer"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// DefaultRunTimeout bounds one sync run
const DefaultRunTimeout = 5 * time.Minute

// Config tunes a Service
type Config struct {
	RunTimeout time.Duration
}

// Service implements the inbound operations. Sync runs are single-flight
// per project; a second request while one is running fails fast.
type Service struct {
	store    storage.Storage
	bindings *binding.Validator
	engine   *syncer.Engine
	clients  gitclient.ClientProvider
	events   logger.BusinessLogger
	notifier notify.Notifier
	config   Config
	logger   *logger.Entry
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates the service. events may be nil.
func New(store storage.Storage, bindings *binding.Validator, engine *syncer.Engine, clients gitclient.ClientProvider,
	events logger.BusinessLogger, config Config, parentLogger *logger.Entry) *Service {
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultRunTimeout
	}
	return &Service{
		store:    store,
		bindings: bindings,
		engine:   engine,
		clients:  clients,
		events:   events,
		notifier: notify.Nop{},
		config:   config,
		logger:   parentLogger.WithField("component", "service"),
		now:      time.Now,
		running:  make(map[string]struct{}),
	}
}

// SetClock replaces the time source used for local issue stamps
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetNotifier routes finished-run events to n
func (s *Service) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.Nop{}
	}
	s.notifier = n
}

// ValidateRepository checks credentials for a project's repository
func (s *Service) ValidateRepository(ctx context.Context, projectID string, req types.ValidateRequest) (*types.ValidationResult, error) {
	result, err := s.bindings.Validate(ctx, projectID, req.Owner, req.Name, req.AccessToken)
	repository := strings.TrimSpace(req.Owner) + "/" + strings.TrimSpace(req.Name)
	if s.events != nil {
		if err != nil {
			s.events.LogBindingValidationError(ctx, projectID, repository, err)
		} else {
			s.events.LogBindingValidated(ctx, projectID, repository, result.Permissions.Push, result.Permissions.Pull)
		}
	}
	return result, err
}

// ConfigureRepository saves a validated binding
func (s *Service) ConfigureRepository(ctx context.Context, projectID string, input types.BindingInput) (*types.RepositoryBinding, error) {
	b, err := s.bindings.Configure(ctx, projectID, input)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.LogBindingConfigured(ctx, projectID, b.FullName, b.AutoSync, b.SyncInterval)
	}
	return b, nil
}

// DeleteRepository removes a project's binding
func (s *Service) DeleteRepository(ctx context.Context, projectID string) error {
	if err := s.bindings.Delete(ctx, projectID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.LogBindingDeleted(ctx, projectID)
	}
	return nil
}

// GetRepository returns the redacted binding
func (s *Service) GetRepository(ctx context.Context, projectID string) (*types.RepositoryBinding, error) {
	return s.bindings.Get(ctx, projectID)
}

// GetSyncStatus reports the binding, the project's sync counters and the
// live rate limit. A failed rate limit lookup falls back to the last
// snapshot seen.
func (s *Service) GetSyncStatus(ctx context.Context, projectID string) (*types.SyncStatusReport, error) {
	b, err := s.store.GetBinding(ctx, projectID)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.GetIssueStats(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats.LastSyncAt = b.LastSyncAt

	report := &types.SyncStatusReport{
		Repository: b.Redacted(),
		Sync:       *stats,
		Running:    s.IsRunning(projectID),
	}

	client, err := s.clients.CreateClient(b.Owner, b.Name, b.Token)
	if err != nil {
		s.logger.WithFields(logger.Fields{
			"operation":  "sync_status",
			"project_id": projectID,
		}).WithError(err).Warn("Could not build client for rate limit lookup")
		return report, nil
	}
	snapshot, err := client.GetRateLimit(ctx)
	if err != nil {
		s.logger.WithFields(logger.Fields{
			"operation":  "sync_status",
			"project_id": projectID,
		}).WithError(err).Debug("Rate limit lookup failed, using last snapshot")
		last := client.RateLimiter().Snapshot()
		snapshot = &last
	}
	report.RateLimit = snapshot
	return report, nil
}

// SyncFromGitHub pulls remote changes into the local store
func (s *Service) SyncFromGitHub(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error) {
	opts.Direction = types.DirectionGitHubToLocal
	return s.Sync(ctx, projectID, opts)
}

// SyncToGitHub pushes local changes to GitHub
func (s *Service) SyncToGitHub(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error) {
	opts.Direction = types.DirectionLocalToGitHub
	return s.Sync(ctx, projectID, opts)
}

// SyncBidirectional reconciles both sides
func (s *Service) SyncBidirectional(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error) {
	opts.Direction = types.DirectionBidirectional
	return s.Sync(ctx, projectID, opts)
}

// Sync runs one pass for projectID. It returns ErrSyncInProgress when the
// project already has a run in flight. The binding is read under the
// project lock so the run starts from the watermark the previous run left.
func (s *Service) Sync(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error) {
	if !s.tryAcquire(projectID) {
		return nil, types.ErrSyncInProgress
	}
	defer s.release(projectID)

	b, err := s.bindings.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	if s.events != nil {
		s.events.LogSyncStart(runCtx, projectID, b.FullName, string(opts.Direction), opts.DryRun)
	}

	started := time.Now()
	result, err := s.engine.Run(runCtx, b, opts)
	s.publish(ctx, projectID, b.FullName, result, err)
	if err != nil {
		if s.events != nil {
			s.events.LogSyncError(ctx, projectID, 1, err, time.Since(started))
		}
		return nil, err
	}

	if s.events != nil {
		duration := result.FinishedAt.Sub(result.StartedAt)
		if result.Success {
			s.events.LogSyncSuccess(ctx, projectID, result.Created, result.Updated, result.Skipped, duration)
		} else {
			s.events.LogSyncError(ctx, projectID, len(result.Errors), summarize(result.Errors), duration)
		}
	}
	return result, nil
}

// RunScheduled is the autoSync entry point. A project that is already
// syncing, or whose binding no longer wants autoSync, is left alone.
func (s *Service) RunScheduled(ctx context.Context, projectID string) (*types.SyncResult, error) {
	b, err := s.bindings.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !b.AutoSync {
		return nil, nil
	}

	result, err := s.Sync(ctx, projectID, types.DefaultSyncOptions(types.DirectionBidirectional))
	if errors.Is(err, types.ErrSyncInProgress) {
		s.logger.WithFields(logger.Fields{
			"operation":  "scheduled_sync",
			"project_id": projectID,
		}).Debug("Sync already running, skipping scheduled tick")
		return nil, nil
	}
	return result, err
}

// AutoSyncBindings lists active bindings that want scheduled runs
func (s *Service) AutoSyncBindings(ctx context.Context) ([]*types.RepositoryBinding, error) {
	all, err := s.store.ListBindings(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.RepositoryBinding
	for _, b := range all {
		if b.IsActive && b.AutoSync {
			out = append(out, b.Redacted())
		}
	}
	return out, nil
}

// IsRunning reports whether projectID has a sync in flight
func (s *Service) IsRunning(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[projectID]
	return ok
}

// RunningProjects lists projects with a sync in flight, sorted
func (s *Service) RunningProjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := make([]string, 0, len(s.running))
	for id := range s.running {
		projects = append(projects, id)
	}
	sort.Strings(projects)
	return projects
}

func (s *Service) tryAcquire(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[projectID]; busy {
		return false
	}
	s.running[projectID] = struct{}{}
	return true
}

func (s *Service) release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, projectID)
}

// publish hands the run outcome to the notifier. Delivery problems never
// fail the run.
func (s *Service) publish(ctx context.Context, projectID, repository string, result *types.SyncResult, runErr error) {
	if err := s.notifier.Notify(ctx, notify.NewSyncEvent(projectID, repository, result, runErr)); err != nil {
		s.logger.WithFields(logger.Fields{
			"operation":  "notify",
			"project_id": projectID,
		}).WithError(err).Warn("Sync event not delivered")
	}
}

// summarize folds run errors into one error for logging
func summarize(errs []types.SyncError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Entity+": "+e.Message)
	}
	return errors.New(strings.Join(msgs, "; "))
}
