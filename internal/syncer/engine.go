// Package syncer reconciles a project's local issues with its GitHub
// repository.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/mapping"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

const (
	// DefaultWorkers bounds concurrent per-issue work within a run
	DefaultWorkers = 5
	// DefaultUnitTimeout bounds one issue's remote calls once started
	DefaultUnitTimeout = 2 * time.Minute
)

// Config tunes an Engine
type Config struct {
	Workers     int
	UnitTimeout time.Duration
	// Events receives per-issue outcomes; nil disables them
	Events logger.BusinessLogger
}

// Engine runs sync passes. It holds no per-run state and may serve many
// bindings concurrently; callers serialize runs per binding.
type Engine struct {
	store    storage.Storage
	clients  gitclient.ClientProvider
	config   Config
	logger   *logger.Entry
	now      func() time.Time
	toRemote func(issue *types.Issue) (mapping.RemoteIssue, error)
}

// NewEngine creates a sync engine
func NewEngine(store storage.Storage, clients gitclient.ClientProvider, config Config, parentLogger *logger.Entry) *Engine {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.UnitTimeout <= 0 {
		config.UnitTimeout = DefaultUnitTimeout
	}
	return &Engine{
		store:    store,
		clients:  clients,
		config:   config,
		logger:   parentLogger.WithField("component", "syncer"),
		now:      time.Now,
		toRemote: mapping.ToRemote,
	}
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// unit is one independent piece of work: a matched pair, an unpaired
// local issue or an unpaired remote issue
type unit struct {
	local  *types.Issue
	remote *gitclient.RemoteIssue
	// linked is set when the pair was found through the body marker
	linked bool
}

// run carries the state of one Run call
type run struct {
	*Engine
	binding *types.RepositoryBinding
	opts    types.SyncOptions
	client  gitclient.IssueClient
	limiter gitclient.RateLimiter
	result  *types.SyncResult
	started time.Time
	log     *logger.Entry

	labels     *labelCache
	milestones *milestoneCache
	createMu   sync.Mutex

	haltOnce sync.Once
	halted   bool
	haltMu   sync.Mutex
}

// Run reconciles binding's project in the direction given by opts. Run
// level failures (bad options, unreachable repository) are returned as
// errors only when nothing was attempted; everything else lands in the
// result.
func (e *Engine) Run(ctx context.Context, binding *types.RepositoryBinding, opts types.SyncOptions) (*types.SyncResult, error) {
	if binding == nil {
		return nil, &types.ConfigurationError{Field: "binding", Message: "is required"}
	}
	if !opts.Direction.Valid() {
		return nil, &types.ConfigurationError{Field: "syncDirection", Message: fmt.Sprintf("unknown direction %q", opts.Direction)}
	}

	client, err := e.clients.CreateClient(binding.Owner, binding.Name, binding.Token)
	if err != nil {
		return nil, err
	}

	started := e.now().UTC()
	r := &run{
		Engine:  e,
		binding: binding,
		opts:    opts,
		client:  client,
		limiter: client.RateLimiter(),
		result:  types.NewSyncResult(opts, started),
		started: started,
		log: e.logger.WithFields(logger.Fields{
			"project_id": binding.ProjectID,
			"repository": binding.FullName,
			"direction":  string(opts.Direction),
			"dry_run":    opts.DryRun,
		}),
	}
	r.labels = newLabelCache(client)
	r.milestones = newMilestoneCache(client)

	r.log.WithField("operation", "run").Info("Starting sync run")
	completed := r.execute(ctx)

	if completed && !opts.DryRun {
		if err := e.store.UpdateBindingSyncTime(ctx, binding.ProjectID, started); err != nil {
			r.result.AddError("binding "+binding.ProjectID, err)
		}
	}

	r.result.Finish(e.now().UTC())
	r.log.WithFields(logger.Fields{
		"operation": "run",
		"created":   r.result.Created,
		"updated":   r.result.Updated,
		"skipped":   r.result.Skipped,
		"errors":    len(r.result.Errors),
		"duration":  r.result.FinishedAt.Sub(started),
	}).Info("Sync run finished")

	return r.result, nil
}

// execute runs the phases and reports whether the run covered every issue,
// which is what allows the watermark to move
func (r *run) execute(ctx context.Context) bool {
	projectID := r.binding.ProjectID

	// Gate: an exhausted quota skips the whole run without a remote call
	if !r.limiter.Sufficient(1) {
		locals, err := r.store.ListIssues(ctx, projectID, types.IssueFilter{})
		if err != nil {
			r.result.AddError("project "+projectID, err)
		}
		r.haltRateLimited(nil)
		for _, local := range locals {
			r.skip(local, nil, types.StateUnseen, "rate limit below safety margin")
		}
		return false
	}

	remotes, err := r.client.ListAllIssues(ctx, "all")
	if err != nil {
		if isRateLimit(err) {
			r.haltRateLimited(err)
		} else {
			r.result.AddError("repository "+r.binding.FullName, err)
		}
		return false
	}

	locals, err := r.store.ListIssues(ctx, projectID, types.IssueFilter{IncludeDeleted: true})
	if err != nil {
		r.result.AddError("project "+projectID, err)
		return false
	}

	units := pair(locals, remotes)
	r.log.WithFields(logger.Fields{
		"operation": "pair",
		"remote":    len(remotes),
		"local":     len(locals),
		"units":     len(units),
	}).Debug("Issues paired")

	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for _, u := range units {
		u := u
		g.Go(func() error {
			r.dispatch(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err() == nil && !r.isHalted()
}

// pair matches locals and remotes by github id, then links unpaired remotes
// whose body marker names an unlinked local issue
func pair(locals []*types.Issue, remotes []gitclient.RemoteIssue) []unit {
	byID := make(map[int64]*gitclient.RemoteIssue, len(remotes))
	for i := range remotes {
		byID[remotes[i].ID] = &remotes[i]
	}

	var units []unit
	unlinked := make(map[string]*types.Issue)
	var unlinkedOrder []*types.Issue
	for _, local := range locals {
		if local.IsLinked() {
			remote := byID[*local.GitHubID]
			delete(byID, *local.GitHubID)
			if local.IsDeleted() && remote == nil {
				continue
			}
			units = append(units, unit{local: local, remote: remote})
			continue
		}
		if local.IsDeleted() {
			continue
		}
		unlinked[local.ID] = local
		unlinkedOrder = append(unlinkedOrder, local)
	}

	for i := range remotes {
		remote := &remotes[i]
		if _, open := byID[remote.ID]; !open {
			continue
		}
		_, meta, err := mapping.DecodeBody(remote.Body)
		if err != nil || meta.LocalID == "" {
			continue
		}
		if local, ok := unlinked[meta.LocalID]; ok {
			units = append(units, unit{local: local, remote: remote, linked: true})
			delete(unlinked, meta.LocalID)
			delete(byID, remote.ID)
		}
	}

	for _, local := range unlinkedOrder {
		if _, ok := unlinked[local.ID]; ok {
			units = append(units, unit{local: local})
		}
	}
	for i := range remotes {
		if _, ok := byID[remotes[i].ID]; ok {
			units = append(units, unit{remote: &remotes[i]})
		}
	}
	return units
}

// dispatch runs one unit. Cancellation and quota are checked before the
// unit starts; once started, its remote calls finish under their own
// deadline.
func (r *run) dispatch(ctx context.Context, u unit) {
	if err := ctx.Err(); err != nil {
		r.haltCancelled(err)
		r.skip(u.local, u.remote, types.StateUnseen, "run cancelled")
		return
	}
	if r.isHalted() {
		r.skip(u.local, u.remote, types.StateUnseen, "rate limit below safety margin")
		return
	}
	if !r.opts.DryRun && !r.limiter.Sufficient(1) {
		r.haltRateLimited(nil)
		r.skip(u.local, u.remote, types.StateUnseen, "rate limit below safety margin")
		return
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.UnitTimeout)
	defer cancel()

	switch {
	case u.local != nil && u.remote != nil:
		r.reconcilePair(workCtx, u.local, u.remote, u.linked)
	case u.local != nil && u.local.IsLinked():
		r.remoteMissing(workCtx, u.local)
	case u.local != nil:
		r.createRemote(workCtx, u.local)
	default:
		r.createLocal(workCtx, u.remote)
	}
}

// record stores an outcome and forwards it to the event logger
func (r *run) record(o types.IssueOutcome) {
	r.result.Record(o)
	if r.config.Events != nil {
		r.config.Events.LogIssueOutcome(context.Background(), r.binding.ProjectID, o.IssueID, o.GitHubNumber,
			string(o.Classification), string(o.State), string(o.Action))
	}
}

// skip records a SKIPPED outcome
func (r *run) skip(local *types.Issue, remote *gitclient.RemoteIssue, classification types.IssueState, reason string) {
	r.record(outcome(local, remote, classification, types.StateSkipped, types.ActionNone, reason))
}

// fail records a FAILED outcome and its error. Rate limit failures are
// reported once and count as skips.
func (r *run) fail(local *types.Issue, remote *gitclient.RemoteIssue, classification types.IssueState, action types.SyncAction, err error) {
	if isRateLimit(err) {
		r.haltRateLimited(err)
		r.skip(local, remote, classification, "rate limit below safety margin")
		return
	}
	r.result.AddError(entityName(local, remote), err)
	r.record(outcome(local, remote, classification, types.StateFailed, action, err.Error()))
	r.log.WithFields(logger.Fields{
		"operation": string(action),
		"entity":    entityName(local, remote),
	}).WithError(err).Warn("Issue sync failed")
}

// haltRateLimited stops dispatching new units and reports the quota error
// once per run
func (r *run) haltRateLimited(cause error) {
	r.halt(func() {
		var exceeded *types.RateLimitExceededError
		if !errors.As(cause, &exceeded) {
			snapshot := r.limiter.Snapshot()
			exceeded = &types.RateLimitExceededError{ResetTime: snapshot.ResetTime(), Remaining: snapshot.Remaining}
		}
		r.result.AddError("rate_limit", exceeded)
		if r.config.Events != nil {
			r.config.Events.LogRateLimitGate(context.Background(), r.binding.ProjectID,
				exceeded.Remaining, r.limiter.Margin(), exceeded.ResetTime)
		}
	})
}

// haltCancelled reports a cancelled or timed out run once
func (r *run) haltCancelled(cause error) {
	r.halt(func() {
		r.result.AddError("run", fmt.Errorf("sync run stopped early: %w", cause))
	})
}

func (r *run) halt(report func()) {
	r.haltOnce.Do(func() {
		r.haltMu.Lock()
		r.halted = true
		r.haltMu.Unlock()
		report()
	})
}

func (r *run) isHalted() bool {
	r.haltMu.Lock()
	defer r.haltMu.Unlock()
	return r.halted
}

func outcome(local *types.Issue, remote *gitclient.RemoteIssue, classification, state types.IssueState, action types.SyncAction, reason string) types.IssueOutcome {
	o := types.IssueOutcome{
		Classification: classification,
		State:          state,
		Action:         action,
		Reason:         reason,
	}
	if local != nil {
		o.IssueID = local.ID
		o.Title = local.Title
		if local.GitHubNumber != nil {
			o.GitHubNumber = *local.GitHubNumber
		}
	}
	if remote != nil {
		o.GitHubNumber = remote.Number
		if o.Title == "" {
			o.Title = remote.Title
		}
	}
	return o
}

func entityName(local *types.Issue, remote *gitclient.RemoteIssue) string {
	switch {
	case local != nil:
		return fmt.Sprintf("issue %s (%s)", local.ID, local.Title)
	case remote != nil:
		return fmt.Sprintf("github issue #%d (%s)", remote.Number, remote.Title)
	default:
		return "issue"
	}
}

func isRateLimit(err error) bool {
	return types.KindOf(err) == types.KindRateLimitExceeded
}
