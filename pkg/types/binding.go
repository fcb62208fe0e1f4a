package types

import (
	"time"
)

const (
	// MinSyncInterval and MaxSyncInterval bound RepositoryBinding.SyncInterval (seconds)
	MinSyncInterval     = 60
	MaxSyncInterval     = 86400
	DefaultSyncInterval = 300
)

// RepositoryBinding associates a project with a GitHub repository
type RepositoryBinding struct {
	ProjectID    string     `json:"projectId" db:"project_id"`
	Owner        string     `json:"owner" db:"owner"`
	Name         string     `json:"name" db:"name"`
	FullName     string     `json:"fullName" db:"full_name"`
	Token        string     `json:"-" db:"token"` // never serialized
	TokenHint    string     `json:"tokenHint,omitempty" db:"-"`
	AutoSync     bool       `json:"autoSync" db:"auto_sync"`
	SyncInterval int        `json:"syncInterval" db:"sync_interval"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	HTMLURL      string     `json:"htmlUrl,omitempty" db:"html_url"`
	IsPrivate    bool       `json:"isPrivate" db:"is_private"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// Redacted returns a copy that is safe to hand to any reader.
func (b *RepositoryBinding) Redacted() *RepositoryBinding {
	if b == nil {
		return nil
	}
	c := *b
	c.TokenHint = TokenHint(b.Token)
	c.Token = ""
	if b.LastSyncAt != nil {
		t := *b.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

// Watermark returns the last sync time or the zero time when the binding
// has never completed a run.
func (b *RepositoryBinding) Watermark() time.Time {
	if b.LastSyncAt == nil {
		return time.Time{}
	}
	return *b.LastSyncAt
}

// TokenHint masks all but the last four characters of a token.
func TokenHint(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

// BindingInput is the caller-provided part of a binding
type BindingInput struct {
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	AccessToken  string `json:"accessToken"`
	AutoSync     *bool  `json:"autoSync,omitempty"`
	SyncInterval int    `json:"syncInterval,omitempty"`
}

// RemoteRepository is repository metadata reported by GitHub
type RemoteRepository struct {
	ID            int64  `json:"id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Description   string `json:"description,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	Language      string `json:"language,omitempty"`
	HTMLURL       string `json:"htmlUrl"`
	Private       bool   `json:"private"`
}

// Permissions are the token's effective rights on a repository
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// RateLimitSnapshot is the latest quota reported by GitHub
type RateLimitSnapshot struct {
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	Used       int   `json:"used"`
	ResetEpoch int64 `json:"reset"`
}

// ResetTime converts ResetEpoch to a time.Time.
func (s RateLimitSnapshot) ResetTime() time.Time {
	if s.ResetEpoch == 0 {
		return time.Time{}
	}
	return time.Unix(s.ResetEpoch, 0)
}

// ValidationResult is returned by repository validation
type ValidationResult struct {
	Valid       bool               `json:"valid"`
	Error       string             `json:"error,omitempty"`
	Repository  *RemoteRepository  `json:"repository,omitempty"`
	Permissions *Permissions       `json:"permissions,omitempty"`
	RateLimit   *RateLimitSnapshot `json:"rateLimit,omitempty"`
}

// SyncStatusReport is returned by getSyncStatus
type SyncStatusReport struct {
	Repository *RepositoryBinding `json:"repository"`
	Sync       IssueStats         `json:"sync"`
	RateLimit  *RateLimitSnapshot `json:"rateLimit,omitempty"`
	Running    bool               `json:"running"`
}

// ValidateRequest carries the credentials to check before binding
type ValidateRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	AccessToken string `json:"accessToken"`
}
