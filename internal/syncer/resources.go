package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// defaultLabelColor is what GitHub assigns to a label created without one
const defaultLabelColor = "ededed"

// labelCache holds the repository's labels for one run. The first ensure
// lists them; later ones only create or recolor what is missing.
type labelCache struct {
	client gitclient.IssueClient

	mu     sync.Mutex
	loaded bool
	labels map[string]gitclient.RemoteLabel
}

func newLabelCache(client gitclient.IssueClient) *labelCache {
	return &labelCache{client: client, labels: make(map[string]gitclient.RemoteLabel)}
}

// ensure makes every label exist on GitHub with the local color
func (c *labelCache) ensure(ctx context.Context, labels []types.Label) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		remote, err := c.client.ListLabels(ctx)
		if err != nil {
			return err
		}
		for _, l := range remote {
			c.labels[l.Name] = l
		}
		c.loaded = true
	}

	for _, l := range labels {
		color := types.NormalizeColor(l.Color)
		existing, ok := c.labels[l.Name]
		if !ok {
			if color == "" {
				color = defaultLabelColor
			}
			created, err := c.client.CreateLabel(ctx, gitclient.RemoteLabel{
				Name:        l.Name,
				Color:       color,
				Description: l.Description,
			})
			if err != nil {
				return err
			}
			c.labels[l.Name] = *created
			continue
		}
		if color != "" && types.NormalizeColor(existing.Color) != color {
			updated, err := c.client.UpdateLabel(ctx, l.Name, gitclient.RemoteLabel{
				Name:        l.Name,
				Color:       color,
				Description: l.Description,
			})
			if err != nil {
				return err
			}
			c.labels[l.Name] = *updated
		}
	}
	return nil
}

// milestoneCache maps milestone titles to numbers for one run
type milestoneCache struct {
	client gitclient.IssueClient

	mu      sync.Mutex
	loaded  bool
	numbers map[string]int
}

func newMilestoneCache(client gitclient.IssueClient) *milestoneCache {
	return &milestoneCache{client: client, numbers: make(map[string]int)}
}

// number returns the milestone number for title, creating it if needed
func (c *milestoneCache) number(ctx context.Context, title string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		milestones, err := c.client.ListMilestones(ctx)
		if err != nil {
			return 0, err
		}
		for _, m := range milestones {
			c.numbers[m.Title] = m.Number
		}
		c.loaded = true
	}

	if number, ok := c.numbers[title]; ok {
		return number, nil
	}
	created, err := c.client.CreateMilestone(ctx, gitclient.RemoteMilestone{Title: title, State: "open"})
	if err != nil {
		return 0, err
	}
	c.numbers[title] = created.Number
	return created.Number, nil
}

// mirrorResources records the labels and milestone of a pulled issue in
// the project's local catalogs
func (r *run) mirrorResources(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue) {
	if r.opts.SyncLabels && len(local.Labels) > 0 {
		if err := r.store.UpsertLabels(ctx, r.binding.ProjectID, local.Labels); err != nil {
			r.result.AddError(entityName(local, remote), err)
		}
	}
	if r.opts.SyncMilestones && remote.Milestone != nil {
		number := remote.Milestone.Number
		if err := r.store.UpsertMilestone(ctx, &types.Milestone{
			ProjectID:    r.binding.ProjectID,
			Title:        remote.Milestone.Title,
			Description:  remote.Milestone.Description,
			State:        remote.Milestone.State,
			DueOn:        remote.Milestone.DueOn,
			GitHubNumber: &number,
		}); err != nil {
			r.result.AddError(entityName(local, remote), err)
		}
	}
}

// syncSubResources brings comments in line once the issue itself is
// settled. Comments are append-only: new remote comments are pulled and
// unlinked local comments are pushed.
func (r *run) syncSubResources(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue) {
	if !r.opts.SyncComments {
		return
	}
	if err := r.syncComments(ctx, local, remote); err != nil {
		if isRateLimit(err) {
			r.haltRateLimited(err)
			return
		}
		r.result.AddError(entityName(local, remote), err)
		r.log.WithFields(logger.Fields{
			"operation":     "sync_comments",
			"issue_id":      local.ID,
			"github_number": remote.Number,
		}).WithError(err).Warn("Comment sync failed")
	}
}

func (r *run) syncComments(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue) error {
	comments, err := r.store.ListComments(ctx, local.ID)
	if err != nil {
		return err
	}

	known := make(map[int64]bool, len(comments))
	for _, c := range comments {
		if c.GitHubID != nil {
			known[*c.GitHubID] = true
		}
	}

	if r.opts.Direction.Pulls() && remote.Comments > len(known) {
		remoteComments, err := r.client.ListComments(ctx, remote.Number)
		if err != nil {
			return err
		}
		for _, rc := range remoteComments {
			if known[rc.ID] {
				continue
			}
			id := rc.ID
			if err := r.store.CreateComment(ctx, &types.Comment{
				IssueID:   local.ID,
				Content:   rc.Body,
				Author:    rc.Author,
				GitHubID:  &id,
				CreatedAt: rc.CreatedAt,
			}); err != nil {
				return err
			}
			known[id] = true
		}
	}

	if !r.opts.Direction.Pushes() {
		return nil
	}
	var pushed time.Time
	for _, c := range comments {
		if c.GitHubID != nil {
			continue
		}
		created, err := r.client.CreateComment(ctx, remote.Number, c.Content)
		if err != nil {
			return err
		}
		if err := r.store.SetCommentGitHubID(ctx, c.ID, created.ID); err != nil {
			return err
		}
		pushed = later(pushed, created.CreatedAt)
	}

	// A new comment bumps the remote issue's updated time; move the
	// baseline past it so it does not read as a remote edit next run.
	if !pushed.IsZero() {
		at := later(r.now(), pushed)
		return r.writeBack(ctx, local, func(fresh *types.Issue) { fresh.LastSyncAt = &at })
	}
	return nil
}
