package gitclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// IssueClient defines the GitHub Issues surface used by the sync engine
type IssueClient interface {
	// GetRepository retrieves repository metadata
	GetRepository(ctx context.Context) (*types.RemoteRepository, error)

	// GetPermissions returns the token's rights on the repository
	GetPermissions(ctx context.Context) (*types.Permissions, error)

	// GetRateLimit fetches the current quota and records it
	GetRateLimit(ctx context.Context) (*types.RateLimitSnapshot, error)

	// ListIssues returns one page of issues; next is 0 on the last page
	ListIssues(ctx context.Context, state string, page int) (issues []RemoteIssue, next int, err error)

	// ListAllIssues follows pagination to the end
	ListAllIssues(ctx context.Context, state string) ([]RemoteIssue, error)

	// GetIssue retrieves a single issue by number
	GetIssue(ctx context.Context, number int) (*RemoteIssue, error)

	// CreateIssue creates a new issue
	CreateIssue(ctx context.Context, payload IssuePayload) (*RemoteIssue, error)

	// UpdateIssue patches an existing issue
	UpdateIssue(ctx context.Context, number int, payload IssuePayload) (*RemoteIssue, error)

	// ListLabels returns every repository label
	ListLabels(ctx context.Context) ([]RemoteLabel, error)

	// CreateLabel creates a repository label
	CreateLabel(ctx context.Context, label RemoteLabel) (*RemoteLabel, error)

	// UpdateLabel changes color or description of a label
	UpdateLabel(ctx context.Context, name string, label RemoteLabel) (*RemoteLabel, error)

	// ListMilestones returns every milestone in any state
	ListMilestones(ctx context.Context) ([]RemoteMilestone, error)

	// CreateMilestone creates a milestone
	CreateMilestone(ctx context.Context, milestone RemoteMilestone) (*RemoteMilestone, error)

	// UpdateMilestone patches a milestone
	UpdateMilestone(ctx context.Context, number int, milestone RemoteMilestone) (*RemoteMilestone, error)

	// ListComments returns every comment on an issue
	ListComments(ctx context.Context, number int) ([]RemoteComment, error)

	// CreateComment appends a comment to an issue
	CreateComment(ctx context.Context, number int, body string) (*RemoteComment, error)

	// RateLimiter exposes the shared quota tracker
	RateLimiter() RateLimiter
}

// RemoteIssue is the typed form of a GitHub issue
type RemoteIssue struct {
	ID        int64
	Number    int
	Title     string
	Body      string
	State     string // open or closed
	HTMLURL   string
	Assignee  string
	Labels    []RemoteLabel
	Milestone *RemoteMilestone
	Comments  int
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// RemoteLabel is a repository label
type RemoteLabel struct {
	ID          int64
	Name        string
	Color       string
	Description string
}

// RemoteMilestone is a repository milestone
type RemoteMilestone struct {
	Number      int
	Title       string
	Description string
	State       string
	DueOn       *time.Time
}

// RemoteComment is an issue comment
type RemoteComment struct {
	ID        int64
	Body      string
	Author    string
	HTMLURL   string
	CreatedAt time.Time
}

// IssuePayload carries the writable fields of an issue. Nil fields are
// left untouched by UpdateIssue.
type IssuePayload struct {
	Title     *string
	Body      *string
	State     *string
	Labels    *[]string
	Assignee  *string
	Milestone *int
}

// ClientConfig represents common configuration for GitHub clients
type ClientConfig struct {
	Token         string        `json:"-"` // Hidden for security
	BaseURL       string        `json:"base_url,omitempty"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff"`
	UserAgent     string        `json:"user_agent"`
	PageSize      int           `json:"page_size"`
	MaxPages      int           `json:"max_pages"`
}

// ClientProvider builds an authenticated client for one repository
type ClientProvider interface {
	CreateClient(owner, name, token string) (IssueClient, error)
}

// ClientFactory creates clients for bindings and shares one rate limiter
// per token so concurrent bindings draw from the same quota
type ClientFactory struct {
	mu           sync.Mutex
	rateLimiters map[string]RateLimiter
	config       ClientConfig
	limiterCfg   RateLimiterConfig
	logger       *logger.Entry
}

// NewClientFactory creates a new client factory
func NewClientFactory(config ClientConfig, limiterCfg RateLimiterConfig, parentLogger *logger.Entry) *ClientFactory {
	return &ClientFactory{
		rateLimiters: make(map[string]RateLimiter),
		config:       config,
		limiterCfg:   limiterCfg,
		logger:       parentLogger,
	}
}

// CreateClient creates a client for owner/name authenticated with token
func (f *ClientFactory) CreateClient(owner, name, token string) (IssueClient, error) {
	config := f.config
	config.Token = token
	return NewGitHubClient(config, owner, name, f.RateLimiterFor(token), f.logger)
}

// RateLimiterFor returns or creates the rate limiter shared by a token
func (f *ClientFactory) RateLimiterFor(token string) RateLimiter {
	key := TokenFingerprint(token)

	f.mu.Lock()
	defer f.mu.Unlock()

	if limiter, exists := f.rateLimiters[key]; exists {
		return limiter
	}
	limiter := NewGitHubRateLimiter(f.limiterCfg)
	f.rateLimiters[key] = limiter
	return limiter
}

// TokenFingerprint hashes a token so it can be used as a map key or log
// field without exposing it
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// GetDefaultConfig returns default client configuration
func GetDefaultConfig() ClientConfig {
	return ClientConfig{
		BaseURL:       DefaultBaseURL,
		Timeout:       30 * time.Second,
		RetryAttempts: 5,
		RetryBackoff:  1 * time.Second,
		UserAgent:     "IssueSync/1.0",
		PageSize:      100,
		MaxPages:      100,
	}
}
