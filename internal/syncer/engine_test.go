package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/mapping"
	"github.com/johnnynv/issuesync/internal/testutils"
	"github.com/johnnynv/issuesync/pkg/types"
)

const projectID = "p1"

// testClock ticks one second per read so every stamp is strictly ordered
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *testClock
	fake   *testutils.FakeGitHub
	store  *testutils.CountingStorage
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newTestClock()
	fake := testutils.NewFakeGitHub("octo", "hello")
	fake.SetClock(clock.Now)
	store := testutils.NewCountingStorage(testutils.NewTestStorage(t))

	ctx := context.Background()
	require.NoError(t, store.SaveBinding(ctx, &types.RepositoryBinding{
		ProjectID:    projectID,
		Owner:        "octo",
		Name:         "hello",
		FullName:     "octo/hello",
		Token:        "ghp_test_token",
		AutoSync:     true,
		SyncInterval: types.DefaultSyncInterval,
		IsActive:     true,
	}))
	store.Reset()

	engine := NewEngine(store, testutils.NewFakeClientProvider(fake), Config{Workers: 4}, testutils.NewTestLogger(t))
	engine.SetClock(clock.Now)

	return &harness{t: t, ctx: ctx, clock: clock, fake: fake, store: store, engine: engine}
}

// useClient rebuilds the engine around client
func (h *harness) useClient(client gitclient.IssueClient, config Config) {
	h.t.Helper()
	provider := clientProvider(func(owner, name, token string) (gitclient.IssueClient, error) {
		return client, nil
	})
	h.engine = NewEngine(h.store, provider, config, testutils.NewTestLogger(h.t))
	h.engine.SetClock(h.clock.Now)
}

type clientProvider func(owner, name, token string) (gitclient.IssueClient, error)

func (f clientProvider) CreateClient(owner, name, token string) (gitclient.IssueClient, error) {
	return f(owner, name, token)
}

// hookedClient runs afterList once the issue listing returns and
// duringWrite inside the first issue create or update
type hookedClient struct {
	*testutils.FakeGitHub
	afterList   func()
	duringWrite func()
	listOnce    sync.Once
	writeOnce   sync.Once
}

func (c *hookedClient) ListAllIssues(ctx context.Context, state string) ([]gitclient.RemoteIssue, error) {
	issues, err := c.FakeGitHub.ListAllIssues(ctx, state)
	if c.afterList != nil {
		c.listOnce.Do(c.afterList)
	}
	return issues, err
}

func (c *hookedClient) CreateIssue(ctx context.Context, payload gitclient.IssuePayload) (*gitclient.RemoteIssue, error) {
	c.write()
	return c.FakeGitHub.CreateIssue(ctx, payload)
}

func (c *hookedClient) UpdateIssue(ctx context.Context, number int, payload gitclient.IssuePayload) (*gitclient.RemoteIssue, error) {
	c.write()
	return c.FakeGitHub.UpdateIssue(ctx, number, payload)
}

func (c *hookedClient) write() {
	if c.duringWrite != nil {
		c.writeOnce.Do(c.duringWrite)
	}
}

// gaugeClient records the peak number of concurrent issue creates
type gaugeClient struct {
	*testutils.FakeGitHub
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *gaugeClient) CreateIssue(ctx context.Context, payload gitclient.IssuePayload) (*gitclient.RemoteIssue, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return c.FakeGitHub.CreateIssue(ctx, payload)
}

func (h *harness) binding() *types.RepositoryBinding {
	h.t.Helper()
	binding, err := h.store.GetBinding(h.ctx, projectID)
	require.NoError(h.t, err)
	return binding
}

func (h *harness) run(direction types.SyncDirection) *types.SyncResult {
	h.t.Helper()
	return h.runWith(h.ctx, types.DefaultSyncOptions(direction))
}

func (h *harness) runWith(ctx context.Context, opts types.SyncOptions) *types.SyncResult {
	h.t.Helper()
	result, err := h.engine.Run(ctx, h.binding(), opts)
	require.NoError(h.t, err)
	require.NotNil(h.t, result)
	return result
}

func (h *harness) addLocal(title string, mutate ...func(issue *types.Issue)) *types.Issue {
	h.t.Helper()
	now := h.clock.Now()
	issue := &types.Issue{
		ProjectID:   projectID,
		Title:       title,
		Description: title + " details",
		Status:      types.IssueStatusOpen,
		Priority:    types.IssuePriorityMedium,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, fn := range mutate {
		fn(issue)
	}
	require.NoError(h.t, h.store.CreateIssue(h.ctx, issue))
	return issue
}

func (h *harness) editLocal(id string, fn func(issue *types.Issue)) {
	h.t.Helper()
	issue := h.local(id)
	fn(issue)
	issue.UpdatedAt = h.clock.Now()
	require.NoError(h.t, h.store.SaveIssue(h.ctx, issue))
}

func (h *harness) local(id string) *types.Issue {
	h.t.Helper()
	issue, err := h.store.GetIssue(h.ctx, projectID, id)
	require.NoError(h.t, err)
	return issue
}

func (h *harness) locals() []*types.Issue {
	h.t.Helper()
	issues, err := h.store.ListIssues(h.ctx, projectID, types.IssueFilter{IncludeDeleted: true})
	require.NoError(h.t, err)
	return issues
}

func (h *harness) localForRemote(number int) *types.Issue {
	h.t.Helper()
	for _, issue := range h.locals() {
		if issue.GitHubNumber != nil && *issue.GitHubNumber == number {
			return issue
		}
	}
	h.t.Fatalf("no local issue linked to github #%d", number)
	return nil
}

func (h *harness) remote(number int) gitclient.RemoteIssue {
	h.t.Helper()
	issue, ok := h.fake.Issue(number)
	require.True(h.t, ok, "github issue #%d missing", number)
	return issue
}

// linkedPair creates a local issue and pushes it so both sides agree
func (h *harness) linkedPair(title string, mutate ...func(issue *types.Issue)) (*types.Issue, int) {
	h.t.Helper()
	issue := h.addLocal(title, mutate...)
	result := h.run(types.DirectionBidirectional)
	require.True(h.t, result.Success, "%+v", result.Errors)
	local := h.local(issue.ID)
	require.NotNil(h.t, local.GitHubNumber)
	return local, *local.GitHubNumber
}

func (h *harness) resetCounters() {
	h.fake.ResetCalls()
	h.store.Reset()
}

func outcomeFor(result *types.SyncResult, issueID string) (types.IssueOutcome, bool) {
	for _, o := range result.Outcomes {
		if o.IssueID == issueID {
			return o, true
		}
	}
	return types.IssueOutcome{}, false
}

func outcomeForRemote(result *types.SyncResult, number int) (types.IssueOutcome, bool) {
	for _, o := range result.Outcomes {
		if o.GitHubNumber == number {
			return o, true
		}
	}
	return types.IssueOutcome{}, false
}

func intPtr(v int) *int { return &v }

func TestEngine_ImportsRemoteIssues(t *testing.T) {
	h := newHarness(t)
	open := h.fake.Seed(gitclient.RemoteIssue{
		Title:  "Crash on start",
		Body:   "Stack trace attached",
		Labels: []gitclient.RemoteLabel{{Name: "bug", Color: "D73A4A"}},
	})
	closed := h.fake.Seed(gitclient.RemoteIssue{Title: "Old request", State: "closed"})

	result := h.run(types.DirectionBidirectional)

	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, h.fake.MutationCalls())

	local := h.localForRemote(open.Number)
	assert.Equal(t, "Crash on start", local.Title)
	assert.Equal(t, "Stack trace attached", local.Description)
	assert.Equal(t, types.SyncStatusSynced, local.SyncStatus)
	require.NotNil(t, local.GitHubID)
	assert.Equal(t, open.ID, *local.GitHubID)
	require.Len(t, local.Labels, 1)
	assert.Equal(t, "d73a4a", local.Labels[0].Color)
	assert.NotNil(t, local.LastSyncAt)

	assert.Equal(t, types.IssueStatusClosed, h.localForRemote(closed.Number).Status)

	labels, err := h.store.ListLabels(h.ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, labels, 1)

	assert.NotNil(t, h.binding().LastSyncAt)
}

func TestEngine_PushesLocalIssues(t *testing.T) {
	h := newHarness(t)
	issue := h.addLocal("Login bug", func(i *types.Issue) {
		i.Labels = []types.Label{{Name: "bug", Color: "#D73A4A"}}
		i.MilestoneTitle = "v1.0"
		i.StoryPoints = intPtr(5)
	})

	result := h.run(types.DirectionBidirectional)

	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 1, result.Created)
	o, ok := outcomeFor(result, issue.ID)
	require.True(t, ok)
	assert.Equal(t, types.ActionCreateRemote, o.Action)
	assert.Equal(t, types.StateApplied, o.State)

	local := h.local(issue.ID)
	assert.Equal(t, types.SyncStatusSynced, local.SyncStatus)
	assert.Equal(t, issue.ID, local.SyncMarker)
	require.NotNil(t, local.GitHubNumber)
	assert.NotEmpty(t, local.GitHubURL)

	remote := h.remote(*local.GitHubNumber)
	assert.Equal(t, "Login bug", remote.Title)
	assert.True(t, mapping.HasMarker(remote.Body, issue.ID))
	require.Len(t, remote.Labels, 1)
	assert.Equal(t, "d73a4a", remote.Labels[0].Color)
	require.NotNil(t, remote.Milestone)
	assert.Equal(t, "v1.0", remote.Milestone.Title)

	description, meta, err := mapping.DecodeBody(remote.Body)
	require.NoError(t, err)
	assert.Equal(t, "Login bug details", description)
	require.NotNil(t, meta.StoryPoints)
	assert.Equal(t, 5, *meta.StoryPoints)
}

func TestEngine_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.fake.Seed(gitclient.RemoteIssue{Title: "From GitHub", Body: "remote body"})
	h.addLocal("From local", func(i *types.Issue) {
		i.Labels = []types.Label{{Name: "enhancement", Color: "a2eeef"}}
		i.MilestoneTitle = "Q3"
	})

	first := h.run(types.DirectionBidirectional)
	require.True(t, first.Success, "%+v", first.Errors)
	require.Equal(t, 2, first.Created)

	h.resetCounters()
	second := h.run(types.DirectionBidirectional)

	assert.True(t, second.Success, "%+v", second.Errors)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 0, h.fake.MutationCalls())
	assert.Equal(t, 0, h.store.Calls("UpdateIssue"))
	assert.Equal(t, 0, h.store.Calls("CreateIssue"))
	assert.Len(t, h.fake.Issues(), 2)
	assert.Len(t, h.locals(), 2)
	for _, o := range second.Outcomes {
		assert.Equal(t, types.StateNoChange, o.Classification, o.Title)
	}
}

func TestEngine_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Tracked")
	h.editLocal(local.ID, func(i *types.Issue) { i.Title = "Tracked, renamed" })
	h.fake.Seed(gitclient.RemoteIssue{Title: "New on GitHub"})
	h.addLocal("New locally")
	watermark := h.binding().LastSyncAt
	h.resetCounters()

	opts := types.DefaultSyncOptions(types.DirectionBidirectional)
	opts.DryRun = true
	dry := h.runWith(h.ctx, opts)

	assert.True(t, dry.DryRun)
	assert.Equal(t, 0, h.fake.MutationCalls())
	assert.Equal(t, 0, h.store.Mutations())
	assert.Equal(t, watermark, h.binding().LastSyncAt)
	assert.Equal(t, "Tracked", h.remote(number).Title)
	for _, o := range dry.Outcomes {
		if o.State == types.StateApplied {
			assert.Equal(t, "dry run", o.Reason)
		}
	}

	real := h.run(types.DirectionBidirectional)
	assert.Equal(t, real.Created, dry.Created)
	assert.Equal(t, real.Updated, dry.Updated)
	assert.Equal(t, real.Skipped, dry.Skipped)
	assert.Equal(t, 2, real.Created)
	assert.Equal(t, 1, real.Updated)
}

func TestEngine_ConflictRemoteWins(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Original title", func(i *types.Issue) {
		i.StoryPoints = intPtr(8)
		i.EstimatedHours = func() *float64 { v := 3.5; return &v }()
	})

	h.editLocal(local.ID, func(i *types.Issue) { i.Title = "Local title" })
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Remote title" })

	result := h.run(types.DirectionBidirectional)

	assert.True(t, result.Success, "%+v", result.Errors)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateConflict, o.Classification)
	assert.Equal(t, types.ActionUpdateLocal, o.Action)

	got := h.local(local.ID)
	assert.Equal(t, "Remote title", got.Title)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 8, *got.StoryPoints)
	require.NotNil(t, got.EstimatedHours)
	assert.Equal(t, 3.5, *got.EstimatedHours)
	assert.Equal(t, "Remote title", h.remote(number).Title)
}

func TestEngine_PullKeepsLocalOnlyFields(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Sized", func(i *types.Issue) {
		i.StoryPoints = intPtr(3)
		i.Relations = []types.Relation{{Type: types.RelationBlocks, TargetID: "api-7"}}
		i.Priority = types.IssuePriorityCritical
	})

	// Someone on GitHub rewrites the body and drops the metadata block
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Body = "rewritten on github" })

	result := h.run(types.DirectionGitHubToLocal)
	assert.True(t, result.Success, "%+v", result.Errors)

	got := h.local(local.ID)
	assert.Equal(t, "rewritten on github", got.Description)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 3, *got.StoryPoints)
	assert.Equal(t, types.IssuePriorityCritical, got.Priority)
	require.Len(t, got.Relations, 1)
	assert.Equal(t, "api-7", got.Relations[0].TargetID)
}

func TestEngine_LoginBugRoundTrip(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Login bug", func(i *types.Issue) {
		i.Status = types.IssueStatusInProgress
		i.StoryPoints = intPtr(2)
	})
	assert.Equal(t, "open", h.remote(number).State)

	h.fake.Edit(number, func(i *gitclient.RemoteIssue) {
		i.Title = "Login bug on Safari"
		i.State = "closed"
	})
	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)

	got := h.local(local.ID)
	assert.Equal(t, "Login bug on Safari", got.Title)
	assert.Equal(t, types.IssueStatusClosed, got.Status)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 2, *got.StoryPoints)

	// Reopen locally; the push carries the reopened state
	h.editLocal(local.ID, func(i *types.Issue) { i.Status = types.IssueStatusInProgress })
	result = h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateLocalNewer, o.Classification)
	assert.Equal(t, "open", h.remote(number).State)
	assert.Equal(t, types.IssueStatusInProgress, h.local(local.ID).Status)
}

func TestEngine_LocalEditIsPushedOnce(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Before")

	h.editLocal(local.ID, func(i *types.Issue) { i.Title = "After" })
	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "After", h.remote(number).Title)

	// Our own write must not read as a remote edit
	h.resetCounters()
	result = h.run(types.DirectionBidirectional)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, h.fake.MutationCalls())

	// A later local edit still pushes instead of conflicting
	h.editLocal(local.ID, func(i *types.Issue) { i.Title = "After again" })
	result = h.run(types.DirectionBidirectional)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateLocalNewer, o.Classification)
	assert.Equal(t, "After again", h.remote(number).Title)
}

func TestEngine_DirectionRules(t *testing.T) {
	t.Run("pull only keeps local edits for later", func(t *testing.T) {
		h := newHarness(t)
		local, number := h.linkedPair("Shared")
		h.editLocal(local.ID, func(i *types.Issue) { i.Title = "Edited locally" })

		result := h.run(types.DirectionGitHubToLocal)
		o, ok := outcomeFor(result, local.ID)
		require.True(t, ok)
		assert.Equal(t, types.StateLocalNewer, o.Classification)
		assert.Equal(t, types.StateSkipped, o.State)
		assert.Equal(t, "Shared", h.remote(number).Title)

		// The watermark moved, but the skipped edit is still pushed later
		result = h.run(types.DirectionLocalToGitHub)
		o, ok = outcomeFor(result, local.ID)
		require.True(t, ok)
		assert.Equal(t, types.StateApplied, o.State)
		assert.Equal(t, "Edited locally", h.remote(number).Title)
	})

	t.Run("push only leaves remote edits alone", func(t *testing.T) {
		h := newHarness(t)
		local, number := h.linkedPair("Shared")
		h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Edited on GitHub" })

		result := h.run(types.DirectionLocalToGitHub)
		o, ok := outcomeFor(result, local.ID)
		require.True(t, ok)
		assert.Equal(t, types.StateRemoteNewer, o.Classification)
		assert.Equal(t, types.StateSkipped, o.State)
		assert.Equal(t, "Shared", h.local(local.ID).Title)
		assert.Equal(t, "Edited on GitHub", h.remote(number).Title)
	})

	t.Run("pull only does not publish new local issues", func(t *testing.T) {
		h := newHarness(t)
		issue := h.addLocal("Private note")

		result := h.run(types.DirectionGitHubToLocal)
		o, ok := outcomeFor(result, issue.ID)
		require.True(t, ok)
		assert.Equal(t, types.StateSkipped, o.State)
		assert.Empty(t, h.fake.Issues())
		assert.False(t, h.local(issue.ID).IsLinked())
	})

	t.Run("push only does not import remote issues", func(t *testing.T) {
		h := newHarness(t)
		remote := h.fake.Seed(gitclient.RemoteIssue{Title: "GitHub only"})

		result := h.run(types.DirectionLocalToGitHub)
		o, ok := outcomeForRemote(result, remote.Number)
		require.True(t, ok)
		assert.Equal(t, types.StateSkipped, o.State)
		assert.Empty(t, h.locals())
	})
}

func TestEngine_PartialFailureIsolation(t *testing.T) {
	h := newHarness(t)
	good1 := h.addLocal("Good one")
	broken := h.addLocal("Broken")
	good2 := h.addLocal("Good two")
	h.fake.FailCreate["Broken"] = &types.TransientNetworkError{Operation: "create issue", StatusCode: 502, Err: errors.New("bad gateway")}

	result := h.run(types.DirectionBidirectional)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindTransientNetwork, result.Errors[0].Kind)
	assert.Contains(t, result.Errors[0].Entity, broken.ID)

	o, ok := outcomeFor(result, broken.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, o.State)

	assert.True(t, h.local(good1.ID).IsLinked())
	assert.True(t, h.local(good2.ID).IsLinked())
	failed := h.local(broken.ID)
	assert.False(t, failed.IsLinked())
	assert.Equal(t, types.SyncStatusSyncFailed, failed.SyncStatus)
	assert.Contains(t, failed.SyncError, "bad gateway")

	// A single failing issue does not hold the watermark back
	assert.NotNil(t, h.binding().LastSyncAt)

	delete(h.fake.FailCreate, "Broken")
	result = h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, types.SyncStatusSynced, h.local(broken.ID).SyncStatus)
	assert.Len(t, h.fake.Issues(), 3)
}

func TestEngine_RateLimitGate(t *testing.T) {
	h := newHarness(t)
	h.addLocal("First")
	h.addLocal("Second")

	limiter := gitclient.NewGitHubRateLimiter(gitclient.RateLimiterConfig{Margin: 10})
	limiter.Update(types.RateLimitSnapshot{
		Limit:      5000,
		Remaining:  0,
		Used:       5000,
		ResetEpoch: time.Now().Add(time.Hour).Unix(),
	})
	h.fake.SetRateLimiter(limiter)

	result := h.run(types.DirectionBidirectional)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Synced)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindRateLimitExceeded, result.Errors[0].Kind)
	assert.Equal(t, 0, h.fake.TotalCalls())
	assert.Equal(t, 0, h.store.Mutations())
	assert.Nil(t, h.binding().LastSyncAt)
}

func TestEngine_RateLimitErrorMidRun(t *testing.T) {
	h := newHarness(t)
	h.addLocal("First")
	h.addLocal("Second")
	h.fake.FailOn["CreateIssue"] = &types.RateLimitExceededError{Remaining: 0, ResetTime: time.Now().Add(time.Hour)}

	result := h.run(types.DirectionBidirectional)

	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindRateLimitExceeded, result.Errors[0].Kind)
	assert.Nil(t, h.binding().LastSyncAt)
	for _, issue := range h.locals() {
		assert.NotEqual(t, types.SyncStatusSyncFailed, issue.SyncStatus)
	}
}

func TestEngine_CrashedCreateIsLinked(t *testing.T) {
	h := newHarness(t)
	issue := h.addLocal("Half created", func(i *types.Issue) {
		i.SyncStatus = types.SyncStatusPendingSync
	})
	issue.SyncMarker = issue.ID
	require.NoError(t, h.store.SaveIssue(h.ctx, issue))

	// The remote create went through but the local stamp never happened
	body, err := mapping.EncodeBody(issue.Description, mapping.Metadata{LocalID: issue.ID})
	require.NoError(t, err)
	remote := h.fake.Seed(gitclient.RemoteIssue{Title: issue.Title, Body: body})
	h.resetCounters()

	result := h.run(types.DirectionBidirectional)

	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 0, h.fake.Calls("CreateIssue"))
	assert.Len(t, h.fake.Issues(), 1)
	assert.Len(t, h.locals(), 1)
	assert.Equal(t, 1, result.Created)

	o, ok := outcomeFor(result, issue.ID)
	require.True(t, ok)
	assert.Equal(t, types.ActionLink, o.Action)

	got := h.local(issue.ID)
	require.NotNil(t, got.GitHubID)
	assert.Equal(t, remote.ID, *got.GitHubID)
	assert.Equal(t, types.SyncStatusSynced, got.SyncStatus)
}

func TestEngine_Comments(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Discussed")

	h.fake.SeedComment(number, "alice", "seen on staging too")
	require.NoError(t, h.store.CreateComment(h.ctx, &types.Comment{
		IssueID: local.ID,
		Content: "fix is in review",
		Author:  "bob",
	}))

	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)

	comments, err := h.store.ListComments(h.ctx, local.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	for _, c := range comments {
		assert.NotNil(t, c.GitHubID, c.Content)
	}
	remoteComments := h.fake.Comments(number)
	require.Len(t, remoteComments, 2)
	assert.Equal(t, "fix is in review", remoteComments[1].Body)

	h.resetCounters()
	result = h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 0, h.fake.Calls("CreateComment"))
	assert.Equal(t, 0, h.fake.Calls("ListComments"))
	assert.Equal(t, 0, h.store.Calls("CreateComment"))

	// A local edit after the comment push is not mistaken for a conflict
	h.editLocal(local.ID, func(i *types.Issue) { i.Title = "Discussed, with fix" })
	result = h.run(types.DirectionBidirectional)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateLocalNewer, o.Classification)
}

func TestEngine_CommentsDisabled(t *testing.T) {
	h := newHarness(t)
	_, number := h.linkedPair("Quiet")
	h.fake.SeedComment(number, "alice", "ping")
	h.resetCounters()

	opts := types.DefaultSyncOptions(types.DirectionBidirectional)
	opts.SyncComments = false
	h.runWith(h.ctx, opts)

	assert.Equal(t, 0, h.fake.Calls("ListComments"))
	assert.Equal(t, 0, h.store.Calls("CreateComment"))
}

func TestEngine_LabelsAndMilestonesCreatedOnce(t *testing.T) {
	h := newHarness(t)
	for _, title := range []string{"One", "Two", "Three"} {
		h.addLocal(title, func(i *types.Issue) {
			i.Labels = []types.Label{{Name: "bug", Color: "d73a4a"}}
			i.MilestoneTitle = "v2"
		})
	}

	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)

	assert.Equal(t, 1, h.fake.Calls("ListLabels"))
	assert.Equal(t, 1, h.fake.Calls("CreateLabel"))
	assert.Equal(t, 1, h.fake.Calls("ListMilestones"))
	assert.Equal(t, 1, h.fake.Calls("CreateMilestone"))
	assert.Equal(t, "d73a4a", h.fake.Labels()["bug"].Color)
	for _, remote := range h.fake.Issues() {
		require.NotNil(t, remote.Milestone)
		assert.Equal(t, "v2", remote.Milestone.Title)
	}
}

func TestEngine_LabelsDisabled(t *testing.T) {
	h := newHarness(t)
	h.addLocal("Unlabelled push", func(i *types.Issue) {
		i.Labels = []types.Label{{Name: "bug", Color: "d73a4a"}}
	})

	opts := types.DefaultSyncOptions(types.DirectionBidirectional)
	opts.SyncLabels = false
	result := h.runWith(h.ctx, opts)
	require.True(t, result.Success, "%+v", result.Errors)

	assert.Equal(t, 0, h.fake.Calls("ListLabels"))
	issues := h.fake.Issues()
	require.Len(t, issues, 1)
	assert.Empty(t, issues[0].Labels)
}

func TestEngine_RemoteMissing(t *testing.T) {
	h := newHarness(t)
	id, number := int64(9999), 42
	issue := h.addLocal("Orphan", func(i *types.Issue) {
		i.GitHubID = &id
		i.GitHubNumber = &number
		i.SyncStatus = types.SyncStatusSynced
	})

	result := h.run(types.DirectionBidirectional)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindNotFound, result.Errors[0].Kind)
	o, ok := outcomeFor(result, issue.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, o.State)

	got := h.local(issue.ID)
	assert.Equal(t, types.SyncStatusSyncFailed, got.SyncStatus)
	assert.Empty(t, h.fake.Issues())

	// Reported each run, but the issue is not rewritten again
	h.resetCounters()
	result = h.run(types.DirectionBidirectional)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 0, h.store.Calls("UpdateIssue"))
}

func TestEngine_SoftDeletedLocal(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Going away")
	require.NoError(t, h.store.DeleteIssue(h.ctx, projectID, local.ID))
	h.resetCounters()

	result := h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 0, h.fake.MutationCalls())
	assert.Equal(t, "open", h.remote(number).State)
	assert.Len(t, h.locals(), 1)

	// A remote edit after the delete is reported once and not pulled
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Still relevant" })
	result = h.run(types.DirectionBidirectional)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindConflictUnresolvable, result.Errors[0].Kind)
	assert.Len(t, h.locals(), 1)
	assert.Equal(t, "Going away", h.locals()[0].Title)

	result = h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
}

func TestEngine_MalformedMetadataImportsRawBody(t *testing.T) {
	h := newHarness(t)
	body := "Broken block\n\n<!-- issuesync:metadata\nstoryPoints: [oops\n-->"
	remote := h.fake.Seed(gitclient.RemoteIssue{Title: "Hand edited", Body: body})

	result := h.run(types.DirectionBidirectional)

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindMapping, result.Errors[0].Kind)
	local := h.localForRemote(remote.Number)
	assert.Equal(t, body, local.Description)
	assert.Nil(t, local.StoryPoints)

	h.resetCounters()
	result = h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 0, h.fake.MutationCalls())
}

func TestEngine_CancelledRun(t *testing.T) {
	h := newHarness(t)
	h.addLocal("First")
	h.fake.Seed(gitclient.RemoteIssue{Title: "Remote"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := h.runWith(ctx, types.DefaultSyncOptions(types.DirectionBidirectional))

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, h.fake.MutationCalls())
	assert.Nil(t, h.binding().LastSyncAt)
}

func TestEngine_CancelMidRun(t *testing.T) {
	h := newHarness(t)
	first := h.addLocal("First")
	second := h.addLocal("Second")
	third := h.addLocal("Third")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.useClient(&hookedClient{FakeGitHub: h.fake, duringWrite: cancel}, Config{Workers: 1})

	result := h.runWith(ctx, types.DefaultSyncOptions(types.DirectionBidirectional))

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "stopped early")

	o, ok := outcomeFor(result, first.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateApplied, o.State)
	for _, id := range []string{second.ID, third.ID} {
		o, ok := outcomeFor(result, id)
		require.True(t, ok)
		assert.Equal(t, types.StateSkipped, o.State)
		assert.Equal(t, "run cancelled", o.Reason)
		assert.False(t, h.local(id).IsLinked())
	}

	// The unit in flight finished its local write
	got := h.local(first.ID)
	assert.True(t, got.IsLinked())
	assert.Equal(t, types.SyncStatusSynced, got.SyncStatus)
	assert.Len(t, h.fake.Issues(), 1)
	assert.Nil(t, h.binding().LastSyncAt)
}

func TestEngine_WorkerBound(t *testing.T) {
	h := newHarness(t)
	for _, title := range []string{"One", "Two", "Three", "Four", "Five", "Six"} {
		h.addLocal(title)
	}
	gauge := &gaugeClient{FakeGitHub: h.fake}
	h.useClient(gauge, Config{Workers: 2})

	result := h.run(types.DirectionBidirectional)

	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 6, result.Created)
	assert.LessOrEqual(t, gauge.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, gauge.peak.Load(), int32(1))
}

func TestEngine_LocalEditDuringCreateSurvives(t *testing.T) {
	h := newHarness(t)
	issue := h.addLocal("Login bug", func(i *types.Issue) { i.StoryPoints = intPtr(3) })

	h.useClient(&hookedClient{FakeGitHub: h.fake, duringWrite: func() {
		h.editLocal(issue.ID, func(i *types.Issue) {
			i.Title = "Login bug (urgent)"
			i.StoryPoints = intPtr(13)
		})
	}}, Config{Workers: 4})

	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 1, result.Created)

	got := h.local(issue.ID)
	assert.True(t, got.IsLinked())
	assert.Equal(t, "Login bug (urgent)", got.Title)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 13, *got.StoryPoints)
	assert.Equal(t, types.SyncStatusPendingSync, got.SyncStatus)

	// The edit that missed the create goes out on the next run
	result = h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	o, ok := outcomeFor(result, issue.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateLocalNewer, o.Classification)
	assert.Equal(t, types.StateApplied, o.State)

	remote := h.remote(*got.GitHubNumber)
	assert.Equal(t, "Login bug (urgent)", remote.Title)
	_, meta, err := mapping.DecodeBody(remote.Body)
	require.NoError(t, err)
	require.NotNil(t, meta.StoryPoints)
	assert.Equal(t, 13, *meta.StoryPoints)
	assert.Equal(t, types.SyncStatusSynced, h.local(issue.ID).SyncStatus)

	h.resetCounters()
	result = h.run(types.DirectionBidirectional)
	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 0, h.fake.MutationCalls())
}

func TestEngine_LocalEditDuringPullKeepsLocalOnlyFields(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Sized", func(i *types.Issue) { i.StoryPoints = intPtr(3) })
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Sized on GitHub" })

	h.useClient(&hookedClient{FakeGitHub: h.fake, afterList: func() {
		h.editLocal(local.ID, func(i *types.Issue) { i.StoryPoints = intPtr(8) })
	}}, Config{Workers: 4})

	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)

	got := h.local(local.ID)
	assert.Equal(t, "Sized on GitHub", got.Title)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 8, *got.StoryPoints)

	_, meta, err := mapping.DecodeBody(h.remote(number).Body)
	require.NoError(t, err)
	require.NotNil(t, meta.StoryPoints)
	assert.Equal(t, 8, *meta.StoryPoints)
}

func TestEngine_ConflictRefreshesMetadataBlock(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Estimate me", func(i *types.Issue) { i.StoryPoints = intPtr(3) })

	h.editLocal(local.ID, func(i *types.Issue) { i.StoryPoints = intPtr(8) })
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Estimate me (remote)" })
	h.resetCounters()

	result := h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateConflict, o.Classification)
	assert.Equal(t, types.ActionUpdateLocal, o.Action)
	assert.Equal(t, 1, h.fake.Calls("UpdateIssue"))

	remote := h.remote(number)
	assert.Equal(t, "Estimate me (remote)", remote.Title)
	_, meta, err := mapping.DecodeBody(remote.Body)
	require.NoError(t, err)
	require.NotNil(t, meta.StoryPoints)
	assert.Equal(t, 8, *meta.StoryPoints)

	got := h.local(local.ID)
	assert.Equal(t, "Estimate me (remote)", got.Title)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 8, *got.StoryPoints)

	for i := 0; i < 2; i++ {
		h.resetCounters()
		result = h.run(types.DirectionBidirectional)
		assert.True(t, result.Success, "%+v", result.Errors)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, h.fake.MutationCalls())
	}
}

func TestEngine_StaleBlockIsPushedAfterPullOnlyRun(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Sized", func(i *types.Issue) { i.StoryPoints = intPtr(3) })

	// A pull-only run keeps the local-only fields but cannot fix the block
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Body = "rewritten on github" })
	result := h.run(types.DirectionGitHubToLocal)
	require.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, "rewritten on github", h.remote(number).Body)

	result = h.run(types.DirectionBidirectional)
	require.True(t, result.Success, "%+v", result.Errors)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateLocalNewer, o.Classification)

	description, meta, err := mapping.DecodeBody(h.remote(number).Body)
	require.NoError(t, err)
	assert.Equal(t, "rewritten on github", description)
	require.NotNil(t, meta.StoryPoints)
	assert.Equal(t, 3, *meta.StoryPoints)
}

func TestClassify_BlockOnlyDifference(t *testing.T) {
	before := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	synced := before.Add(time.Minute)
	r := &run{
		Engine:  NewEngine(nil, nil, Config{}, testutils.NewTestLogger(t)),
		binding: &types.RepositoryBinding{},
		opts:    types.DefaultSyncOptions(types.DirectionBidirectional),
	}

	local := &types.Issue{
		ID:          "a",
		Title:       "Sized",
		Description: "details",
		Status:      types.IssueStatusOpen,
		StoryPoints: intPtr(8),
		SyncMarker:  "a",
		SyncStatus:  types.SyncStatusSynced,
		LastSyncAt:  &synced,
		UpdatedAt:   before,
	}
	staleBody, err := mapping.EncodeBody("details", mapping.Metadata{LocalID: "a", StoryPoints: intPtr(3)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote gitclient.RemoteIssue
		want   types.IssueState
	}{
		{
			name:   "stale block",
			remote: gitclient.RemoteIssue{Title: "Sized", Body: staleBody, State: "open", UpdatedAt: before},
			want:   types.StateLocalNewer,
		},
		{
			name:   "title differs too",
			remote: gitclient.RemoteIssue{Title: "Renamed", Body: staleBody, State: "open", UpdatedAt: before},
			want:   types.StateNoChange,
		},
		{
			name:   "malformed block",
			remote: gitclient.RemoteIssue{Title: "Sized", Body: "details\n\n<!-- issuesync:metadata\nstoryPoints: [oops\n-->", State: "open", UpdatedAt: before},
			want:   types.StateNoChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.classify(local, &tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_DeletedLocalMappingErrorIsReported(t *testing.T) {
	h := newHarness(t)
	local, number := h.linkedPair("Going away")
	require.NoError(t, h.store.DeleteIssue(h.ctx, projectID, local.ID))
	h.fake.Edit(number, func(i *gitclient.RemoteIssue) { i.Title = "Still relevant" })
	h.engine.toRemote = func(issue *types.Issue) (mapping.RemoteIssue, error) {
		return mapping.RemoteIssue{}, &types.MappingError{Reason: "encode metadata block"}
	}

	result := h.run(types.DirectionBidirectional)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindMapping, result.Errors[0].Kind)
	o, ok := outcomeFor(result, local.ID)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, o.State)
	assert.Equal(t, "Going away", h.local(local.ID).Title)
}

func TestEngine_RunValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Run(h.ctx, nil, types.DefaultSyncOptions(types.DirectionBidirectional))
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))

	_, err = h.engine.Run(h.ctx, h.binding(), types.SyncOptions{Direction: "SIDEWAYS"})
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))

	binding := h.binding()
	binding.Name = "missing"
	_, err = h.engine.Run(h.ctx, binding, types.DefaultSyncOptions(types.DirectionBidirectional))
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestEngine_ListFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.FailOn["ListIssues"] = &types.AuthError{Message: "Bad credentials"}

	result := h.run(types.DirectionBidirectional)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.KindAuth, result.Errors[0].Kind)
	assert.Nil(t, h.binding().LastSyncAt)
}

func TestPair(t *testing.T) {
	id1, id2 := int64(101), int64(102)
	n1, n2 := 1, 2
	deletedAt := time.Now()

	linked := &types.Issue{ID: "linked", GitHubID: &id1, GitHubNumber: &n1}
	pending := &types.Issue{ID: "pending", SyncMarker: "pending"}
	fresh := &types.Issue{ID: "fresh"}
	gone := &types.Issue{ID: "gone", DeletedAt: &deletedAt}
	goneLinked := &types.Issue{ID: "gone-linked", GitHubID: &id2, GitHubNumber: &n2, DeletedAt: &deletedAt}

	markerBody, err := mapping.EncodeBody("body", mapping.Metadata{LocalID: "pending"})
	require.NoError(t, err)
	remotes := []gitclient.RemoteIssue{
		{ID: 101, Number: 1, Title: "linked"},
		{ID: 103, Number: 3, Title: "crashed create", Body: markerBody},
		{ID: 104, Number: 4, Title: "github only"},
	}

	units := pair([]*types.Issue{linked, pending, fresh, gone, goneLinked}, remotes)
	require.Len(t, units, 4)

	assert.Same(t, linked, units[0].local)
	assert.Equal(t, 1, units[0].remote.Number)
	assert.False(t, units[0].linked)

	assert.Same(t, pending, units[1].local)
	assert.Equal(t, 3, units[1].remote.Number)
	assert.True(t, units[1].linked)

	assert.Same(t, fresh, units[2].local)
	assert.Nil(t, units[2].remote)

	assert.Nil(t, units[3].local)
	assert.Equal(t, 4, units[3].remote.Number)
}
