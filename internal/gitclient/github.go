package gitclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// DefaultBaseURL is the public GitHub REST endpoint
const DefaultBaseURL = "https://api.github.com/"

// GitHubClient implements IssueClient for one repository
type GitHubClient struct {
	config      ClientConfig
	client      *github.Client
	owner       string
	repo        string
	rateLimiter RateLimiter
	logger      *logger.Entry
}

// NewGitHubClient creates a new GitHub client
func NewGitHubClient(config ClientConfig, owner, repo string, rateLimiter RateLimiter, parentLogger *logger.Entry) (*GitHubClient, error) {
	if config.Token == "" {
		return nil, &types.ConfigurationError{Field: "accessToken", Message: "GitHub token is required"}
	}
	if owner == "" || repo == "" {
		return nil, &types.ConfigurationError{Field: "repository", Message: "owner and name are required"}
	}

	defaults := GetDefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.PageSize <= 0 || config.PageSize > 100 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}
	if rateLimiter == nil {
		rateLimiter = NewGitHubRateLimiter(RateLimiterConfig{})
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "base_url", Message: err.Error()}
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	client.BaseURL = baseURL
	client.UserAgent = config.UserAgent

	if parentLogger == nil {
		parentLogger = logger.GetDefaultLogger().WithComponent("gitclient")
	}
	clientLogger := parentLogger.WithFields(logger.Fields{
		"provider":   "github",
		"repository": owner + "/" + repo,
	})

	clientLogger.WithField("base_url", baseURL.String()).Debug("Initializing GitHub client")

	return &GitHubClient{
		config:      config,
		client:      client,
		owner:       owner,
		repo:        repo,
		rateLimiter: rateLimiter,
		logger:      clientLogger,
	}, nil
}

// RateLimiter exposes the shared quota tracker
func (c *GitHubClient) RateLimiter() RateLimiter {
	return c.rateLimiter
}

// GetRepository retrieves repository metadata
func (c *GitHubClient) GetRepository(ctx context.Context) (*types.RemoteRepository, error) {
	repo, err := c.fetchRepository(ctx)
	if err != nil {
		return nil, err
	}

	return &types.RemoteRepository{
		ID:            repo.GetID(),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		DefaultBranch: repo.GetDefaultBranch(),
		Language:      repo.GetLanguage(),
		HTMLURL:       repo.GetHTMLURL(),
		Private:       repo.GetPrivate(),
	}, nil
}

// GetPermissions returns the token's rights on the repository
func (c *GitHubClient) GetPermissions(ctx context.Context) (*types.Permissions, error) {
	repo, err := c.fetchRepository(ctx)
	if err != nil {
		return nil, err
	}

	perms := repo.GetPermissions()
	return &types.Permissions{
		Admin: perms["admin"],
		Push:  perms["push"],
		Pull:  perms["pull"],
	}, nil
}

func (c *GitHubClient) fetchRepository(ctx context.Context) (*github.Repository, error) {
	var repo *github.Repository
	err := c.do(ctx, "get_repository", c.owner+"/"+c.repo, func(ctx context.Context) (*github.Response, error) {
		r, resp, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
		repo = r
		return resp, err
	})
	if err != nil {
		c.logger.WithError(err).WithField("operation", "get_repository").Error("Failed to fetch repository")
		return nil, err
	}
	return repo, nil
}

// GetRateLimit fetches the current quota and records it
func (c *GitHubClient) GetRateLimit(ctx context.Context) (*types.RateLimitSnapshot, error) {
	var limits *github.RateLimits
	err := c.do(ctx, "get_rate_limit", "rate_limit", func(ctx context.Context) (*github.Response, error) {
		l, resp, err := c.client.RateLimits(ctx)
		limits = l
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	core := limits.GetCore()
	if core == nil {
		snapshot := c.rateLimiter.Snapshot()
		return &snapshot, nil
	}
	snapshot := types.RateLimitSnapshot{
		Limit:      core.Limit,
		Remaining:  core.Remaining,
		Used:       core.Limit - core.Remaining,
		ResetEpoch: core.Reset.Unix(),
	}
	c.rateLimiter.Update(snapshot)
	return &snapshot, nil
}

// ListIssues returns one page of issues, pull requests excluded
func (c *GitHubClient) ListIssues(ctx context.Context, state string, page int) ([]RemoteIssue, int, error) {
	if state == "" {
		state = "all"
	}
	if page < 1 {
		page = 1
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: c.config.PageSize},
	}

	var (
		issues []*github.Issue
		next   int
	)
	err := c.do(ctx, "list_issues", c.owner+"/"+c.repo, func(ctx context.Context) (*github.Response, error) {
		is, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		issues = is
		if resp != nil {
			next = resp.NextPage
		}
		return resp, err
	})
	if err != nil {
		return nil, 0, err
	}

	result := make([]RemoteIssue, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		result = append(result, convertIssue(issue))
	}
	return result, next, nil
}

// ListAllIssues follows pagination to the end
func (c *GitHubClient) ListAllIssues(ctx context.Context, state string) ([]RemoteIssue, error) {
	var all []RemoteIssue
	page := 1
	for pages := 0; ; pages++ {
		if pages >= c.config.MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", c.config.MaxPages)
		}
		issues, next, err := c.ListIssues(ctx, state, page)
		if err != nil {
			return nil, err
		}
		all = append(all, issues...)
		if next == 0 {
			break
		}
		page = next
	}

	c.logger.WithFields(logger.Fields{
		"operation":   "list_all_issues",
		"issue_count": len(all),
	}).Debug("Fetched remote issues")
	return all, nil
}

// GetIssue retrieves a single issue by number
func (c *GitHubClient) GetIssue(ctx context.Context, number int) (*RemoteIssue, error) {
	var issue *github.Issue
	err := c.do(ctx, "get_issue", strconv.Itoa(number), func(ctx context.Context) (*github.Response, error) {
		i, resp, err := c.client.Issues.Get(ctx, c.owner, c.repo, number)
		issue = i
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	converted := convertIssue(issue)
	return &converted, nil
}

// CreateIssue creates a new issue
func (c *GitHubClient) CreateIssue(ctx context.Context, payload IssuePayload) (*RemoteIssue, error) {
	req := payload.request()
	// GitHub rejects a state on create
	req.State = nil

	var issue *github.Issue
	err := c.do(ctx, "create_issue", payload.title(), func(ctx context.Context) (*github.Response, error) {
		i, resp, err := c.client.Issues.Create(ctx, c.owner, c.repo, req)
		issue = i
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	created := convertIssue(issue)
	// A locally closed issue is created open and then closed
	if payload.State != nil && *payload.State == "closed" {
		closed := "closed"
		updated, err := c.UpdateIssue(ctx, created.Number, IssuePayload{State: &closed})
		if err != nil {
			return &created, err
		}
		created = *updated
	}

	c.logger.WithFields(logger.Fields{
		"operation":    "create_issue",
		"issue_number": created.Number,
	}).Info("Created GitHub issue")
	return &created, nil
}

// UpdateIssue patches an existing issue
func (c *GitHubClient) UpdateIssue(ctx context.Context, number int, payload IssuePayload) (*RemoteIssue, error) {
	req := payload.request()

	var issue *github.Issue
	err := c.do(ctx, "update_issue", strconv.Itoa(number), func(ctx context.Context) (*github.Response, error) {
		i, resp, err := c.client.Issues.Edit(ctx, c.owner, c.repo, number, req)
		issue = i
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logger.Fields{
		"operation":    "update_issue",
		"issue_number": number,
	}).Debug("Updated GitHub issue")
	updated := convertIssue(issue)
	return &updated, nil
}

// ListLabels returns every repository label
func (c *GitHubClient) ListLabels(ctx context.Context) ([]RemoteLabel, error) {
	var all []RemoteLabel
	opts := &github.ListOptions{PerPage: c.config.PageSize}
	for pages := 0; pages < c.config.MaxPages; pages++ {
		var (
			labels []*github.Label
			next   int
		)
		err := c.do(ctx, "list_labels", c.owner+"/"+c.repo, func(ctx context.Context) (*github.Response, error) {
			ls, resp, err := c.client.Issues.ListLabels(ctx, c.owner, c.repo, opts)
			labels = ls
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			all = append(all, convertLabel(l))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// CreateLabel creates a repository label
func (c *GitHubClient) CreateLabel(ctx context.Context, label RemoteLabel) (*RemoteLabel, error) {
	req := &github.Label{
		Name:  github.String(label.Name),
		Color: github.String(types.NormalizeColor(label.Color)),
	}
	if label.Description != "" {
		req.Description = github.String(label.Description)
	}

	var created *github.Label
	err := c.do(ctx, "create_label", label.Name, func(ctx context.Context) (*github.Response, error) {
		l, resp, err := c.client.Issues.CreateLabel(ctx, c.owner, c.repo, req)
		created = l
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	converted := convertLabel(created)
	return &converted, nil
}

// UpdateLabel changes color or description of a label
func (c *GitHubClient) UpdateLabel(ctx context.Context, name string, label RemoteLabel) (*RemoteLabel, error) {
	req := &github.Label{Color: github.String(types.NormalizeColor(label.Color))}
	if label.Description != "" {
		req.Description = github.String(label.Description)
	}

	var updated *github.Label
	err := c.do(ctx, "update_label", name, func(ctx context.Context) (*github.Response, error) {
		l, resp, err := c.client.Issues.EditLabel(ctx, c.owner, c.repo, name, req)
		updated = l
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	converted := convertLabel(updated)
	return &converted, nil
}

// ListMilestones returns every milestone in any state
func (c *GitHubClient) ListMilestones(ctx context.Context) ([]RemoteMilestone, error) {
	var all []RemoteMilestone
	opts := &github.MilestoneListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: c.config.PageSize},
	}
	for pages := 0; pages < c.config.MaxPages; pages++ {
		var (
			milestones []*github.Milestone
			next       int
		)
		err := c.do(ctx, "list_milestones", c.owner+"/"+c.repo, func(ctx context.Context) (*github.Response, error) {
			ms, resp, err := c.client.Issues.ListMilestones(ctx, c.owner, c.repo, opts)
			milestones = ms
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, m := range milestones {
			all = append(all, *convertMilestone(m))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// CreateMilestone creates a milestone
func (c *GitHubClient) CreateMilestone(ctx context.Context, milestone RemoteMilestone) (*RemoteMilestone, error) {
	req := milestoneRequest(milestone)

	var created *github.Milestone
	err := c.do(ctx, "create_milestone", milestone.Title, func(ctx context.Context) (*github.Response, error) {
		m, resp, err := c.client.Issues.CreateMilestone(ctx, c.owner, c.repo, req)
		created = m
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertMilestone(created), nil
}

// UpdateMilestone patches a milestone
func (c *GitHubClient) UpdateMilestone(ctx context.Context, number int, milestone RemoteMilestone) (*RemoteMilestone, error) {
	req := milestoneRequest(milestone)

	var updated *github.Milestone
	err := c.do(ctx, "update_milestone", strconv.Itoa(number), func(ctx context.Context) (*github.Response, error) {
		m, resp, err := c.client.Issues.EditMilestone(ctx, c.owner, c.repo, number, req)
		updated = m
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertMilestone(updated), nil
}

// ListComments returns every comment on an issue
func (c *GitHubClient) ListComments(ctx context.Context, number int) ([]RemoteComment, error) {
	var all []RemoteComment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: c.config.PageSize},
	}
	for pages := 0; pages < c.config.MaxPages; pages++ {
		var (
			comments []*github.IssueComment
			next     int
		)
		err := c.do(ctx, "list_comments", strconv.Itoa(number), func(ctx context.Context) (*github.Response, error) {
			cs, resp, err := c.client.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
			comments = cs
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, cm := range comments {
			all = append(all, convertComment(cm))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// CreateComment appends a comment to an issue
func (c *GitHubClient) CreateComment(ctx context.Context, number int, body string) (*RemoteComment, error) {
	var created *github.IssueComment
	err := c.do(ctx, "create_comment", strconv.Itoa(number), func(ctx context.Context) (*github.Response, error) {
		cm, resp, err := c.client.Issues.CreateComment(ctx, c.owner, c.repo, number, &github.IssueComment{Body: github.String(body)})
		created = cm
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	converted := convertComment(created)
	return &converted, nil
}

func (p IssuePayload) request() *github.IssueRequest {
	return &github.IssueRequest{
		Title:     p.Title,
		Body:      p.Body,
		State:     p.State,
		Labels:    p.Labels,
		Assignee:  p.Assignee,
		Milestone: p.Milestone,
	}
}

func (p IssuePayload) title() string {
	if p.Title == nil {
		return ""
	}
	return *p.Title
}

func milestoneRequest(m RemoteMilestone) *github.Milestone {
	req := &github.Milestone{Title: github.String(m.Title)}
	if m.Description != "" {
		req.Description = github.String(m.Description)
	}
	if m.State != "" {
		req.State = github.String(m.State)
	}
	if m.DueOn != nil {
		req.DueOn = &github.Timestamp{Time: *m.DueOn}
	}
	return req
}

func convertIssue(issue *github.Issue) RemoteIssue {
	remote := RemoteIssue{
		ID:        issue.GetID(),
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		HTMLURL:   issue.GetHTMLURL(),
		Assignee:  issue.GetAssignee().GetLogin(),
		Comments:  issue.GetComments(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.Time
		remote.ClosedAt = &t
	}
	for _, l := range issue.Labels {
		remote.Labels = append(remote.Labels, convertLabel(l))
	}
	if issue.Milestone != nil {
		remote.Milestone = convertMilestone(issue.Milestone)
	}
	return remote
}

func convertLabel(label *github.Label) RemoteLabel {
	return RemoteLabel{
		ID:          label.GetID(),
		Name:        label.GetName(),
		Color:       types.NormalizeColor(label.GetColor()),
		Description: label.GetDescription(),
	}
}

func convertMilestone(m *github.Milestone) *RemoteMilestone {
	milestone := &RemoteMilestone{
		Number:      m.GetNumber(),
		Title:       m.GetTitle(),
		Description: m.GetDescription(),
		State:       m.GetState(),
	}
	if m.DueOn != nil {
		t := m.DueOn.Time
		milestone.DueOn = &t
	}
	return milestone
}

func convertComment(comment *github.IssueComment) RemoteComment {
	return RemoteComment{
		ID:        comment.GetID(),
		Body:      comment.GetBody(),
		Author:    comment.GetUser().GetLogin(),
		HTMLURL:   comment.GetHTMLURL(),
		CreatedAt: comment.GetCreatedAt().Time,
	}
}
