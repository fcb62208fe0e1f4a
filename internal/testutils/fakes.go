package testutils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/types"
)

// FakeGitHub is an in-memory GitHub repository implementing
// gitclient.IssueClient. It counts every call so tests can assert that a
// run made no remote mutations.
type FakeGitHub struct {
	mu sync.Mutex

	Repository  types.RemoteRepository
	Permissions types.Permissions

	issues     map[int]*gitclient.RemoteIssue
	labels     map[string]gitclient.RemoteLabel
	milestones map[int]gitclient.RemoteMilestone
	comments   map[int][]gitclient.RemoteComment
	nextID     int64
	nextNumber int
	nextMile   int

	limiter gitclient.RateLimiter
	now     func() time.Time

	calls map[string]int
	// FailCreate makes CreateIssue fail for payloads whose title matches
	FailCreate map[string]error
	// FailOn makes the named operation fail on every call
	FailOn map[string]error
}

// mutating operations counted by MutationCalls
var fakeMutations = []string{
	"CreateIssue", "UpdateIssue", "CreateLabel", "UpdateLabel",
	"CreateMilestone", "UpdateMilestone", "CreateComment",
}

// NewFakeGitHub creates an empty repository owner/name
func NewFakeGitHub(owner, name string) *FakeGitHub {
	return &FakeGitHub{
		Repository: types.RemoteRepository{
			ID:            1,
			Owner:         owner,
			Name:          name,
			FullName:      owner + "/" + name,
			DefaultBranch: "main",
			HTMLURL:       "https://github.com/" + owner + "/" + name,
		},
		Permissions: types.Permissions{Admin: true, Push: true, Pull: true},
		issues:      make(map[int]*gitclient.RemoteIssue),
		labels:      make(map[string]gitclient.RemoteLabel),
		milestones:  make(map[int]gitclient.RemoteMilestone),
		comments:    make(map[int][]gitclient.RemoteComment),
		nextID:      1000,
		limiter:     gitclient.NewNoOpRateLimiter(),
		now:         time.Now,
		calls:       make(map[string]int),
		FailCreate:  make(map[string]error),
		FailOn:      make(map[string]error),
	}
}

// SetRateLimiter replaces the limiter returned by RateLimiter
func (f *FakeGitHub) SetRateLimiter(limiter gitclient.RateLimiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiter = limiter
}

// SetClock replaces the clock used for created/updated stamps
func (f *FakeGitHub) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Seed adds an issue as if a user created it on GitHub
func (f *FakeGitHub) Seed(issue gitclient.RemoteIssue) gitclient.RemoteIssue {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.nextNumber++
	if issue.ID == 0 {
		issue.ID = f.nextID
	}
	if issue.Number == 0 {
		issue.Number = f.nextNumber
	} else if issue.Number > f.nextNumber {
		f.nextNumber = issue.Number
	}
	if issue.State == "" {
		issue.State = "open"
	}
	if issue.HTMLURL == "" {
		issue.HTMLURL = fmt.Sprintf("%s/issues/%d", f.Repository.HTMLURL, issue.Number)
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = f.now()
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}
	stored := issue
	f.issues[issue.Number] = &stored
	return stored
}

// Edit changes a remote issue as if a user edited it on GitHub
func (f *FakeGitHub) Edit(number int, fn func(issue *gitclient.RemoteIssue)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.issues[number]
	if !ok {
		return
	}
	fn(issue)
	issue.UpdatedAt = f.now()
}

// SeedComment adds a comment as if a user wrote it on GitHub
func (f *FakeGitHub) SeedComment(number int, author, body string) gitclient.RemoteComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addComment(number, author, body)
}

// Issue returns a copy of a remote issue
func (f *FakeGitHub) Issue(number int) (gitclient.RemoteIssue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return gitclient.RemoteIssue{}, false
	}
	return copyIssue(issue), true
}

// Issues returns copies of every remote issue ordered by number
func (f *FakeGitHub) Issues() []gitclient.RemoteIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedIssues()
}

// Comments returns the comments on an issue
func (f *FakeGitHub) Comments(number int) []gitclient.RemoteComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gitclient.RemoteComment(nil), f.comments[number]...)
}

// Labels returns the repository labels keyed by name
func (f *FakeGitHub) Labels() map[string]gitclient.RemoteLabel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]gitclient.RemoteLabel, len(f.labels))
	for k, v := range f.labels {
		out[k] = v
	}
	return out
}

// Calls returns how often op was invoked
func (f *FakeGitHub) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of API calls of any kind
func (f *FakeGitHub) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// MutationCalls returns the number of calls that change remote state
func (f *FakeGitHub) MutationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, op := range fakeMutations {
		total += f.calls[op]
	}
	return total
}

// ResetCalls zeroes the call counters
func (f *FakeGitHub) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

func (f *FakeGitHub) record(op string) error {
	f.calls[op]++
	return f.FailOn[op]
}

// RateLimiter implements gitclient.IssueClient
func (f *FakeGitHub) RateLimiter() gitclient.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limiter
}

// GetRepository implements gitclient.IssueClient
func (f *FakeGitHub) GetRepository(ctx context.Context) (*types.RemoteRepository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetRepository"); err != nil {
		return nil, err
	}
	repo := f.Repository
	return &repo, nil
}

// GetPermissions implements gitclient.IssueClient
func (f *FakeGitHub) GetPermissions(ctx context.Context) (*types.Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPermissions"); err != nil {
		return nil, err
	}
	perms := f.Permissions
	return &perms, nil
}

// GetRateLimit implements gitclient.IssueClient
func (f *FakeGitHub) GetRateLimit(ctx context.Context) (*types.RateLimitSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetRateLimit"); err != nil {
		return nil, err
	}
	snapshot := f.limiter.Snapshot()
	return &snapshot, nil
}

// ListIssues implements gitclient.IssueClient with a single page
func (f *FakeGitHub) ListIssues(ctx context.Context, state string, page int) ([]gitclient.RemoteIssue, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListIssues"); err != nil {
		return nil, 0, err
	}
	return f.filterState(state), 0, nil
}

// ListAllIssues implements gitclient.IssueClient
func (f *FakeGitHub) ListAllIssues(ctx context.Context, state string) ([]gitclient.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListIssues"); err != nil {
		return nil, err
	}
	return f.filterState(state), nil
}

// GetIssue implements gitclient.IssueClient
func (f *FakeGitHub) GetIssue(ctx context.Context, number int) (*gitclient.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetIssue"); err != nil {
		return nil, err
	}
	issue, ok := f.issues[number]
	if !ok {
		return nil, &types.NotFoundError{Resource: "issue", ID: fmt.Sprint(number)}
	}
	c := copyIssue(issue)
	return &c, nil
}

// CreateIssue implements gitclient.IssueClient
func (f *FakeGitHub) CreateIssue(ctx context.Context, payload gitclient.IssuePayload) (*gitclient.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateIssue"); err != nil {
		return nil, err
	}
	if payload.Title != nil {
		if err := f.FailCreate[*payload.Title]; err != nil {
			return nil, err
		}
	}

	f.nextID++
	f.nextNumber++
	now := f.now()
	issue := &gitclient.RemoteIssue{
		ID:        f.nextID,
		Number:    f.nextNumber,
		State:     "open",
		HTMLURL:   fmt.Sprintf("%s/issues/%d", f.Repository.HTMLURL, f.nextNumber),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.apply(issue, payload)
	f.issues[issue.Number] = issue

	c := copyIssue(issue)
	return &c, nil
}

// UpdateIssue implements gitclient.IssueClient
func (f *FakeGitHub) UpdateIssue(ctx context.Context, number int, payload gitclient.IssuePayload) (*gitclient.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateIssue"); err != nil {
		return nil, err
	}
	issue, ok := f.issues[number]
	if !ok {
		return nil, &types.NotFoundError{Resource: "issue", ID: fmt.Sprint(number)}
	}
	f.apply(issue, payload)
	issue.UpdatedAt = f.now()

	c := copyIssue(issue)
	return &c, nil
}

// ListLabels implements gitclient.IssueClient
func (f *FakeGitHub) ListLabels(ctx context.Context) ([]gitclient.RemoteLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListLabels"); err != nil {
		return nil, err
	}
	labels := make([]gitclient.RemoteLabel, 0, len(f.labels))
	for _, l := range f.labels {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels, nil
}

// CreateLabel implements gitclient.IssueClient
func (f *FakeGitHub) CreateLabel(ctx context.Context, label gitclient.RemoteLabel) (*gitclient.RemoteLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateLabel"); err != nil {
		return nil, err
	}
	if _, exists := f.labels[label.Name]; exists {
		return nil, &types.ValidationError{StatusCode: 422, Message: "label already exists"}
	}
	f.nextID++
	label.ID = f.nextID
	label.Color = types.NormalizeColor(label.Color)
	f.labels[label.Name] = label
	return &label, nil
}

// UpdateLabel implements gitclient.IssueClient
func (f *FakeGitHub) UpdateLabel(ctx context.Context, name string, label gitclient.RemoteLabel) (*gitclient.RemoteLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateLabel"); err != nil {
		return nil, err
	}
	existing, ok := f.labels[name]
	if !ok {
		return nil, &types.NotFoundError{Resource: "label", ID: name}
	}
	existing.Color = types.NormalizeColor(label.Color)
	if label.Description != "" {
		existing.Description = label.Description
	}
	f.labels[name] = existing
	return &existing, nil
}

// ListMilestones implements gitclient.IssueClient
func (f *FakeGitHub) ListMilestones(ctx context.Context) ([]gitclient.RemoteMilestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListMilestones"); err != nil {
		return nil, err
	}
	milestones := make([]gitclient.RemoteMilestone, 0, len(f.milestones))
	for _, m := range f.milestones {
		milestones = append(milestones, m)
	}
	sort.Slice(milestones, func(i, j int) bool { return milestones[i].Number < milestones[j].Number })
	return milestones, nil
}

// CreateMilestone implements gitclient.IssueClient
func (f *FakeGitHub) CreateMilestone(ctx context.Context, milestone gitclient.RemoteMilestone) (*gitclient.RemoteMilestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateMilestone"); err != nil {
		return nil, err
	}
	f.nextMile++
	milestone.Number = f.nextMile
	if milestone.State == "" {
		milestone.State = "open"
	}
	f.milestones[milestone.Number] = milestone
	return &milestone, nil
}

// UpdateMilestone implements gitclient.IssueClient
func (f *FakeGitHub) UpdateMilestone(ctx context.Context, number int, milestone gitclient.RemoteMilestone) (*gitclient.RemoteMilestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateMilestone"); err != nil {
		return nil, err
	}
	if _, ok := f.milestones[number]; !ok {
		return nil, &types.NotFoundError{Resource: "milestone", ID: fmt.Sprint(number)}
	}
	milestone.Number = number
	f.milestones[number] = milestone
	return &milestone, nil
}

// ListComments implements gitclient.IssueClient
func (f *FakeGitHub) ListComments(ctx context.Context, number int) ([]gitclient.RemoteComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListComments"); err != nil {
		return nil, err
	}
	return append([]gitclient.RemoteComment(nil), f.comments[number]...), nil
}

// CreateComment implements gitclient.IssueClient
func (f *FakeGitHub) CreateComment(ctx context.Context, number int, body string) (*gitclient.RemoteComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateComment"); err != nil {
		return nil, err
	}
	if _, ok := f.issues[number]; !ok {
		return nil, &types.NotFoundError{Resource: "issue", ID: fmt.Sprint(number)}
	}
	c := f.addComment(number, "issuesync-bot", body)
	return &c, nil
}

func (f *FakeGitHub) addComment(number int, author, body string) gitclient.RemoteComment {
	f.nextID++
	c := gitclient.RemoteComment{
		ID:        f.nextID,
		Body:      body,
		Author:    author,
		HTMLURL:   fmt.Sprintf("%s/issues/%d#issuecomment-%d", f.Repository.HTMLURL, number, f.nextID),
		CreatedAt: f.now(),
	}
	f.comments[number] = append(f.comments[number], c)
	if issue, ok := f.issues[number]; ok {
		issue.Comments++
		issue.UpdatedAt = f.now()
	}
	return c
}

func (f *FakeGitHub) apply(issue *gitclient.RemoteIssue, payload gitclient.IssuePayload) {
	if payload.Title != nil {
		issue.Title = *payload.Title
	}
	if payload.Body != nil {
		issue.Body = *payload.Body
	}
	if payload.State != nil {
		issue.State = *payload.State
	}
	if payload.Assignee != nil {
		issue.Assignee = *payload.Assignee
	}
	if payload.Labels != nil {
		issue.Labels = issue.Labels[:0:0]
		for _, name := range *payload.Labels {
			label, ok := f.labels[name]
			if !ok {
				// GitHub creates unknown labels with a default color
				f.nextID++
				label = gitclient.RemoteLabel{ID: f.nextID, Name: name, Color: "ededed"}
				f.labels[name] = label
			}
			issue.Labels = append(issue.Labels, label)
		}
	}
	if payload.Milestone != nil {
		if m, ok := f.milestones[*payload.Milestone]; ok {
			mc := m
			issue.Milestone = &mc
		}
	}
}

func (f *FakeGitHub) filterState(state string) []gitclient.RemoteIssue {
	var out []gitclient.RemoteIssue
	for _, issue := range f.sortedIssues() {
		if state == "" || state == "all" || strings.EqualFold(issue.State, state) {
			out = append(out, issue)
		}
	}
	return out
}

func (f *FakeGitHub) sortedIssues() []gitclient.RemoteIssue {
	out := make([]gitclient.RemoteIssue, 0, len(f.issues))
	for _, issue := range f.issues {
		out = append(out, copyIssue(issue))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func copyIssue(issue *gitclient.RemoteIssue) gitclient.RemoteIssue {
	c := *issue
	c.Labels = append([]gitclient.RemoteLabel(nil), issue.Labels...)
	if issue.Milestone != nil {
		m := *issue.Milestone
		c.Milestone = &m
	}
	return c
}

// FakeClientProvider hands out fixed clients keyed by owner/name
type FakeClientProvider struct {
	mu      sync.Mutex
	clients map[string]gitclient.IssueClient
	Tokens  []string
}

// NewFakeClientProvider creates a provider serving the given fakes
func NewFakeClientProvider(fakes ...*FakeGitHub) *FakeClientProvider {
	p := &FakeClientProvider{clients: make(map[string]gitclient.IssueClient)}
	for _, f := range fakes {
		p.clients[f.Repository.FullName] = f
	}
	return p
}

// CreateClient implements gitclient.ClientProvider
func (p *FakeClientProvider) CreateClient(owner, name, token string) (gitclient.IssueClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Tokens = append(p.Tokens, token)
	if token == "" {
		return nil, &types.ConfigurationError{Field: "token", Message: "token is required"}
	}
	client, ok := p.clients[owner+"/"+name]
	if !ok {
		return nil, &types.NotFoundError{Resource: "repository", ID: owner + "/" + name}
	}
	return client, nil
}

// CountingStorage wraps a Storage and counts mutating calls
type CountingStorage struct {
	storage.Storage

	mu    sync.Mutex
	calls map[string]int
}

// NewCountingStorage wraps inner
func NewCountingStorage(inner storage.Storage) *CountingStorage {
	return &CountingStorage{Storage: inner, calls: make(map[string]int)}
}

func (c *CountingStorage) count(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
}

// Mutations returns the number of writes seen so far
func (c *CountingStorage) Mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// Calls returns how often op was invoked
func (c *CountingStorage) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Reset zeroes the counters
func (c *CountingStorage) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
}

func (c *CountingStorage) SaveBinding(ctx context.Context, binding *types.RepositoryBinding) error {
	c.count("SaveBinding")
	return c.Storage.SaveBinding(ctx, binding)
}

func (c *CountingStorage) DeleteBinding(ctx context.Context, projectID string) error {
	c.count("DeleteBinding")
	return c.Storage.DeleteBinding(ctx, projectID)
}

func (c *CountingStorage) UpdateBindingSyncTime(ctx context.Context, projectID string, at time.Time) error {
	c.count("UpdateBindingSyncTime")
	return c.Storage.UpdateBindingSyncTime(ctx, projectID, at)
}

func (c *CountingStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	c.count("CreateIssue")
	return c.Storage.CreateIssue(ctx, issue)
}

func (c *CountingStorage) SaveIssue(ctx context.Context, issue *types.Issue) error {
	c.count("SaveIssue")
	return c.Storage.SaveIssue(ctx, issue)
}

func (c *CountingStorage) UpdateIssue(ctx context.Context, projectID, issueID string, mutate func(issue *types.Issue) error) (*types.Issue, error) {
	c.count("UpdateIssue")
	return c.Storage.UpdateIssue(ctx, projectID, issueID, mutate)
}

func (c *CountingStorage) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	c.count("DeleteIssue")
	return c.Storage.DeleteIssue(ctx, projectID, issueID)
}

func (c *CountingStorage) CreateComment(ctx context.Context, comment *types.Comment) error {
	c.count("CreateComment")
	return c.Storage.CreateComment(ctx, comment)
}

func (c *CountingStorage) SetCommentGitHubID(ctx context.Context, commentID string, githubID int64) error {
	c.count("SetCommentGitHubID")
	return c.Storage.SetCommentGitHubID(ctx, commentID, githubID)
}

func (c *CountingStorage) UpsertLabels(ctx context.Context, projectID string, labels []types.Label) error {
	c.count("UpsertLabels")
	return c.Storage.UpsertLabels(ctx, projectID, labels)
}

func (c *CountingStorage) UpsertMilestone(ctx context.Context, milestone *types.Milestone) error {
	c.count("UpsertMilestone")
	return c.Storage.UpsertMilestone(ctx, milestone)
}
