package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/types"
)

// MockAny matches any argument in an expectation
var MockAny = mock.Anything

// MockStorage is a testify mock of storage.Storage for failure injection.
// Prefer NewTestStorage when real persistence is enough.
type MockStorage struct {
	mock.Mock
}

// ret unpacks a (value, error) expectation. A nil first return yields the
// zero T.
func ret[T any](args mock.Arguments) (T, error) {
	var zero T
	if v := args.Get(0); v != nil {
		return v.(T), args.Error(1)
	}
	return zero, args.Error(1)
}

func (m *MockStorage) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStorage) Close() error {
	return m.Called().Error(0)
}

func (m *MockStorage) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStorage) SaveBinding(ctx context.Context, binding *types.RepositoryBinding) error {
	return m.Called(ctx, binding).Error(0)
}

func (m *MockStorage) GetBinding(ctx context.Context, projectID string) (*types.RepositoryBinding, error) {
	return ret[*types.RepositoryBinding](m.Called(ctx, projectID))
}

func (m *MockStorage) ListBindings(ctx context.Context) ([]*types.RepositoryBinding, error) {
	return ret[[]*types.RepositoryBinding](m.Called(ctx))
}

func (m *MockStorage) DeleteBinding(ctx context.Context, projectID string) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *MockStorage) UpdateBindingSyncTime(ctx context.Context, projectID string, at time.Time) error {
	return m.Called(ctx, projectID, at).Error(0)
}

func (m *MockStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	return m.Called(ctx, issue).Error(0)
}

func (m *MockStorage) SaveIssue(ctx context.Context, issue *types.Issue) error {
	return m.Called(ctx, issue).Error(0)
}

// UpdateIssue runs mutate on the issue the expectation returns, so tests
// can assert what the caller changed
func (m *MockStorage) UpdateIssue(ctx context.Context, projectID, issueID string, mutate func(issue *types.Issue) error) (*types.Issue, error) {
	issue, err := ret[*types.Issue](m.Called(ctx, projectID, issueID, mutate))
	if err != nil || issue == nil {
		return issue, err
	}
	if err := mutate(issue); err != nil {
		return nil, err
	}
	return issue, nil
}

func (m *MockStorage) GetIssue(ctx context.Context, projectID, issueID string) (*types.Issue, error) {
	return ret[*types.Issue](m.Called(ctx, projectID, issueID))
}

func (m *MockStorage) ListIssues(ctx context.Context, projectID string, filter types.IssueFilter) ([]*types.Issue, error) {
	return ret[[]*types.Issue](m.Called(ctx, projectID, filter))
}

func (m *MockStorage) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	return m.Called(ctx, projectID, issueID).Error(0)
}

func (m *MockStorage) CreateComment(ctx context.Context, comment *types.Comment) error {
	return m.Called(ctx, comment).Error(0)
}

func (m *MockStorage) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	return ret[[]*types.Comment](m.Called(ctx, issueID))
}

func (m *MockStorage) SetCommentGitHubID(ctx context.Context, commentID string, githubID int64) error {
	return m.Called(ctx, commentID, githubID).Error(0)
}

func (m *MockStorage) UpsertLabels(ctx context.Context, projectID string, labels []types.Label) error {
	return m.Called(ctx, projectID, labels).Error(0)
}

func (m *MockStorage) ListLabels(ctx context.Context, projectID string) ([]types.Label, error) {
	return ret[[]types.Label](m.Called(ctx, projectID))
}

func (m *MockStorage) UpsertMilestone(ctx context.Context, milestone *types.Milestone) error {
	return m.Called(ctx, milestone).Error(0)
}

func (m *MockStorage) ListMilestones(ctx context.Context, projectID string) ([]*types.Milestone, error) {
	return ret[[]*types.Milestone](m.Called(ctx, projectID))
}

func (m *MockStorage) GetIssueStats(ctx context.Context, projectID string) (*types.IssueStats, error) {
	return ret[*types.IssueStats](m.Called(ctx, projectID))
}

func (m *MockStorage) GetStats(ctx context.Context) (*storage.StorageStats, error) {
	return ret[*storage.StorageStats](m.Called(ctx))
}

// NewMockStorage returns a mock whose HealthCheck and Close succeed unless
// a test overrides them. Initialize is left to the test, since testify
// answers with the first matching expectation.
func NewMockStorage() *MockStorage {
	m := &MockStorage{}
	m.On("HealthCheck", MockAny).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

var _ storage.Storage = (*MockStorage)(nil)
