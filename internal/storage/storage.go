package storage

import (
	"context"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// BindingStore persists repository bindings, at most one per project.
type BindingStore interface {
	SaveBinding(ctx context.Context, binding *types.RepositoryBinding) error
	GetBinding(ctx context.Context, projectID string) (*types.RepositoryBinding, error)
	ListBindings(ctx context.Context) ([]*types.RepositoryBinding, error)
	DeleteBinding(ctx context.Context, projectID string) error
	UpdateBindingSyncTime(ctx context.Context, projectID string, at time.Time) error
}

// IssueStore persists local issues and their comments. SaveIssue writes the
// whole row and its labels as given, UpdatedAt included. Writers that may
// race with other writers use UpdateIssue, which re-reads the row under the
// write lock and saves whatever mutate leaves in it. A mutate error rolls
// the transaction back and is returned unchanged.
type IssueStore interface {
	CreateIssue(ctx context.Context, issue *types.Issue) error
	SaveIssue(ctx context.Context, issue *types.Issue) error
	UpdateIssue(ctx context.Context, projectID, issueID string, mutate func(issue *types.Issue) error) (*types.Issue, error)
	GetIssue(ctx context.Context, projectID, issueID string) (*types.Issue, error)
	ListIssues(ctx context.Context, projectID string, filter types.IssueFilter) ([]*types.Issue, error)
	DeleteIssue(ctx context.Context, projectID, issueID string) error

	CreateComment(ctx context.Context, comment *types.Comment) error
	ListComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	SetCommentGitHubID(ctx context.Context, commentID string, githubID int64) error
}

// CatalogStore holds the per-project label and milestone catalogs mirrored
// from GitHub.
type CatalogStore interface {
	UpsertLabels(ctx context.Context, projectID string, labels []types.Label) error
	ListLabels(ctx context.Context, projectID string) ([]types.Label, error)
	UpsertMilestone(ctx context.Context, milestone *types.Milestone) error
	ListMilestones(ctx context.Context, projectID string) ([]*types.Milestone, error)
}

// Storage is the full persistence layer the runtime owns.
type Storage interface {
	Initialize(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	BindingStore
	IssueStore
	CatalogStore

	GetIssueStats(ctx context.Context, projectID string) (*types.IssueStats, error)
	GetStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats is the database-wide summary shown by `issuesync status`.
type StorageStats struct {
	TotalBindings  int64     `json:"total_bindings"`
	ActiveBindings int64     `json:"active_bindings"`
	TotalIssues    int64     `json:"total_issues"`
	LinkedIssues   int64     `json:"linked_issues"`
	FailedIssues   int64     `json:"failed_issues"`
	TotalComments  int64     `json:"total_comments"`
	LastSyncTime   time.Time `json:"last_sync_time,omitempty"`
	DatabaseSize   int64     `json:"database_size_bytes,omitempty"`
}

// UnsupportedStorageTypeError is returned for unknown storage.type values
type UnsupportedStorageTypeError struct {
	Type string
}

func (e *UnsupportedStorageTypeError) Error() string {
	return "unsupported storage type: " + e.Type
}

// Open builds the backend named by config.Type. The caller runs
// Initialize.
func Open(config *types.StorageConfig) (Storage, error) {
	switch config.Type {
	case "sqlite", "":
		return NewSQLiteStorage(&config.SQLite)
	default:
		return nil, &UnsupportedStorageTypeError{Type: config.Type}
	}
}
