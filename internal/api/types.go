package api

import (
	"context"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// SyncService is what the handlers drive. *service.Service satisfies it.
type SyncService interface {
	ValidateRepository(ctx context.Context, projectID string, req types.ValidateRequest) (*types.ValidationResult, error)
	ConfigureRepository(ctx context.Context, projectID string, input types.BindingInput) (*types.RepositoryBinding, error)
	DeleteRepository(ctx context.Context, projectID string) error
	GetRepository(ctx context.Context, projectID string) (*types.RepositoryBinding, error)
	GetSyncStatus(ctx context.Context, projectID string) (*types.SyncStatusReport, error)

	SyncFromGitHub(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error)
	SyncToGitHub(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error)
	SyncBidirectional(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error)

	ListIssues(ctx context.Context, projectID string, filter types.IssueFilter) ([]*types.Issue, error)
	GetIssue(ctx context.Context, projectID, issueID string) (*types.Issue, error)
	CreateIssue(ctx context.Context, projectID string, input types.IssueInput) (*types.Issue, error)
	UpdateIssue(ctx context.Context, projectID, issueID string, input types.IssueInput) (*types.Issue, error)
	DeleteIssue(ctx context.Context, projectID, issueID string) error
	AddComment(ctx context.Context, projectID, issueID, author, content string) (*types.Comment, error)
	ListComments(ctx context.Context, projectID, issueID string) ([]*types.Comment, error)
}

// RuntimeProvider is the slice of the runtime the probes and /status read.
// It is optional; without one the server reports only itself.
type RuntimeProvider interface {
	Health(ctx context.Context) RuntimeHealthStatus
	GetStatus() *RuntimeStatus
}

// Wire shapes of the runtime endpoints. They mirror the runtime package's
// types with plain strings so this package does not import it.
type (
	// RuntimeHealthStatus is healthy unless a required component failed.
	// Status may still read "degraded".
	RuntimeHealthStatus struct {
		Healthy    bool                       `json:"healthy"`
		Status     string                     `json:"status,omitempty"`
		Components map[string]ComponentHealth `json:"components"`
		Checks     []HealthCheck              `json:"checks"`
	}

	ComponentHealth struct {
		Status   string        `json:"status"`
		Duration time.Duration `json:"duration,omitempty"`
	}

	HealthCheck struct {
		Name     string        `json:"name"`
		Status   string        `json:"status"`
		Duration time.Duration `json:"duration"`
		Error    string        `json:"error,omitempty"`
	}

	RuntimeStatus struct {
		State     string        `json:"state"`
		StartedAt time.Time     `json:"started_at"`
		Uptime    time.Duration `json:"uptime"`
		Version   string        `json:"version"`
		// ActiveRuns lists projects with a sync run in flight.
		ActiveRuns []string                   `json:"active_runs,omitempty"`
		Components map[string]ComponentStatus `json:"components"`
	}

	ComponentStatus struct {
		Name      string        `json:"name"`
		State     string        `json:"state"`
		StartedAt time.Time     `json:"started_at"`
		Uptime    time.Duration `json:"uptime"`
		Health    string        `json:"health"`
		LastError string        `json:"last_error,omitempty"`
		Metrics   interface{}   `json:"metrics,omitempty"`
	}
)

// syncRequest is the body of the sync endpoints. Omitted sub-resource
// flags default to true.
type syncRequest struct {
	SyncLabels     *bool `json:"syncLabels,omitempty"`
	SyncComments   *bool `json:"syncComments,omitempty"`
	SyncMilestones *bool `json:"syncMilestones,omitempty"`
	DryRun         bool  `json:"dryRun"`
}

func (r syncRequest) options() types.SyncOptions {
	opts := types.DefaultSyncOptions("")
	if r.SyncLabels != nil {
		opts.SyncLabels = *r.SyncLabels
	}
	if r.SyncComments != nil {
		opts.SyncComments = *r.SyncComments
	}
	if r.SyncMilestones != nil {
		opts.SyncMilestones = *r.SyncMilestones
	}
	opts.DryRun = r.DryRun
	return opts
}

// commentRequest is the body of the add-comment endpoint
type commentRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}
