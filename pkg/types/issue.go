package types

import (
	"strings"
	"time"
)

// IssueStatus is the local workflow status of an issue
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "OPEN"
	IssueStatusInProgress IssueStatus = "IN_PROGRESS"
	IssueStatusResolved   IssueStatus = "RESOLVED"
	IssueStatusClosed     IssueStatus = "CLOSED"
)

// IssuePriority represents how urgent an issue is
type IssuePriority string

const (
	IssuePriorityCritical IssuePriority = "CRITICAL"
	IssuePriorityHigh     IssuePriority = "HIGH"
	IssuePriorityMedium   IssuePriority = "MEDIUM"
	IssuePriorityLow      IssuePriority = "LOW"
)

// IssueSeverity represents the impact of an issue
type IssueSeverity string

const (
	IssueSeverityBlocker  IssueSeverity = "BLOCKER"
	IssueSeverityCritical IssueSeverity = "CRITICAL"
	IssueSeverityMajor    IssueSeverity = "MAJOR"
	IssueSeverityMinor    IssueSeverity = "MINOR"
	IssueSeverityTrivial  IssueSeverity = "TRIVIAL"
	IssueSeverityNormal   IssueSeverity = "NORMAL"
)

// IssueType classifies an issue
type IssueType string

const (
	IssueTypeBug           IssueType = "BUG"
	IssueTypeFeature       IssueType = "FEATURE"
	IssueTypeEnhancement   IssueType = "ENHANCEMENT"
	IssueTypeTask          IssueType = "TASK"
	IssueTypeDocumentation IssueType = "DOCUMENTATION"
	IssueTypeQuestion      IssueType = "QUESTION"
)

// SyncStatus tracks the relationship between a local issue and its remote copy
type SyncStatus string

const (
	SyncStatusNotSynced   SyncStatus = "NOT_SYNCED"
	SyncStatusSynced      SyncStatus = "SYNCED"
	SyncStatusPendingSync SyncStatus = "PENDING_SYNC"
	SyncStatusSyncFailed  SyncStatus = "SYNC_FAILED"
)

// RelationType describes how two local entities relate
type RelationType string

const (
	RelationRelatesTo  RelationType = "RELATES_TO"
	RelationBlocks     RelationType = "BLOCKS"
	RelationBlockedBy  RelationType = "BLOCKED_BY"
	RelationImplements RelationType = "IMPLEMENTS"
	RelationFixes      RelationType = "FIXES"
	RelationAffects    RelationType = "AFFECTS"
)

// Relation links an issue to another local entity. Relations have no
// remote equivalent and travel in the issue metadata block.
type Relation struct {
	Type     RelationType `json:"type" yaml:"type"`
	TargetID string       `json:"target_id" yaml:"targetId"`
}

// Label is a named, colored tag. Color is six lower-case hex digits.
type Label struct {
	Name        string `json:"name" db:"name"`
	Color       string `json:"color" db:"color"`
	Description string `json:"description,omitempty" db:"description"`
}

// NormalizeColor turns "#FFAA00" or "ffaa00" into "ffaa00".
func NormalizeColor(color string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(color), "#"))
}

// Issue is the local issue model
type Issue struct {
	ID             string        `json:"id" db:"id"`
	ProjectID      string        `json:"project_id" db:"project_id"`
	Number         int           `json:"number" db:"number"`
	Title          string        `json:"title" db:"title"`
	Description    string        `json:"description" db:"description"`
	Status         IssueStatus   `json:"status" db:"status"`
	Priority       IssuePriority `json:"priority,omitempty" db:"priority"`
	Severity       IssueSeverity `json:"severity,omitempty" db:"severity"`
	Type           IssueType     `json:"type,omitempty" db:"type"`
	Assignee       string        `json:"assignee,omitempty" db:"assignee"`
	Labels         []Label       `json:"labels"`
	MilestoneTitle string        `json:"milestone,omitempty" db:"milestone_title"`
	DueDate        *time.Time    `json:"due_date,omitempty" db:"due_date"`
	EstimatedHours *float64      `json:"estimated_hours,omitempty" db:"estimated_hours"`
	StoryPoints    *int          `json:"story_points,omitempty" db:"story_points"`
	Relations      []Relation    `json:"relations,omitempty"`

	GitHubID     *int64     `json:"github_id,omitempty" db:"github_id"`
	GitHubNumber *int       `json:"github_number,omitempty" db:"github_number"`
	GitHubURL    string     `json:"github_url,omitempty" db:"github_url"`
	SyncStatus   SyncStatus `json:"sync_status" db:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty" db:"sync_error"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	// SyncMarker is the local id embedded in the remote body. It lets a
	// crashed create be found again instead of duplicated.
	SyncMarker string `json:"sync_marker,omitempty" db:"sync_marker"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsLinked reports whether the issue has been stamped with a remote id.
func (i *Issue) IsLinked() bool {
	return i.GitHubID != nil
}

// IsDeleted reports whether the issue has been soft-deleted locally.
func (i *Issue) IsDeleted() bool {
	return i.DeletedAt != nil
}

// Clone returns a deep copy so workers can mutate issues independently.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.Labels != nil {
		c.Labels = append([]Label(nil), i.Labels...)
	}
	if i.Relations != nil {
		c.Relations = append([]Relation(nil), i.Relations...)
	}
	if i.GitHubID != nil {
		v := *i.GitHubID
		c.GitHubID = &v
	}
	if i.GitHubNumber != nil {
		v := *i.GitHubNumber
		c.GitHubNumber = &v
	}
	if i.StoryPoints != nil {
		v := *i.StoryPoints
		c.StoryPoints = &v
	}
	if i.EstimatedHours != nil {
		v := *i.EstimatedHours
		c.EstimatedHours = &v
	}
	if i.LastSyncAt != nil {
		v := *i.LastSyncAt
		c.LastSyncAt = &v
	}
	if i.DueDate != nil {
		v := *i.DueDate
		c.DueDate = &v
	}
	if i.DeletedAt != nil {
		v := *i.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}

// Comment belongs to an issue. Comments are append-only on the remote side.
type Comment struct {
	ID        string    `json:"id" db:"id"`
	IssueID   string    `json:"issue_id" db:"issue_id"`
	Content   string    `json:"content" db:"content"`
	Author    string    `json:"author" db:"author"`
	GitHubID  *int64    `json:"github_id,omitempty" db:"github_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Milestone is a project milestone mirrored by title
type Milestone struct {
	ProjectID    string     `json:"project_id" db:"project_id"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description,omitempty" db:"description"`
	State        string     `json:"state" db:"state"`
	DueOn        *time.Time `json:"due_on,omitempty" db:"due_on"`
	GitHubNumber *int       `json:"github_number,omitempty" db:"github_number"`
}

// IssueFilter narrows issue listings
type IssueFilter struct {
	SyncStatus     SyncStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// IssueStats aggregates sync status counts for a project
type IssueStats struct {
	TotalIssues  int        `json:"totalIssues"`
	SyncedIssues int        `json:"syncedIssues"`
	PendingSync  int        `json:"pendingSync"`
	FailedSync   int        `json:"failedSync"`
	NotSynced    int        `json:"notSynced"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
}

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusResolved, IssueStatusClosed:
		return true
	}
	return false
}

// IssueInput is a caller-provided create or update. Nil fields are left
// as they are on update.
type IssueInput struct {
	Title          *string        `json:"title,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Status         *IssueStatus   `json:"status,omitempty"`
	Priority       *IssuePriority `json:"priority,omitempty"`
	Severity       *IssueSeverity `json:"severity,omitempty"`
	Type           *IssueType     `json:"type,omitempty"`
	Assignee       *string        `json:"assignee,omitempty"`
	Labels         *[]Label       `json:"labels,omitempty"`
	Milestone      *string        `json:"milestone,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	StoryPoints    *int           `json:"story_points,omitempty"`
	Relations      *[]Relation    `json:"relations,omitempty"`
}

// Apply copies the set fields onto issue.
func (in IssueInput) Apply(issue *Issue) {
	if in.Title != nil {
		issue.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		issue.Description = *in.Description
	}
	if in.Status != nil {
		issue.Status = *in.Status
	}
	if in.Priority != nil {
		issue.Priority = *in.Priority
	}
	if in.Severity != nil {
		issue.Severity = *in.Severity
	}
	if in.Type != nil {
		issue.Type = *in.Type
	}
	if in.Assignee != nil {
		issue.Assignee = *in.Assignee
	}
	if in.Labels != nil {
		labels := make([]Label, 0, len(*in.Labels))
		for _, l := range *in.Labels {
			l.Name = strings.TrimSpace(l.Name)
			l.Color = NormalizeColor(l.Color)
			labels = append(labels, l)
		}
		issue.Labels = labels
	}
	if in.Milestone != nil {
		issue.MilestoneTitle = strings.TrimSpace(*in.Milestone)
	}
	if in.DueDate != nil {
		d := *in.DueDate
		issue.DueDate = &d
	}
	if in.EstimatedHours != nil {
		h := *in.EstimatedHours
		issue.EstimatedHours = &h
	}
	if in.StoryPoints != nil {
		p := *in.StoryPoints
		issue.StoryPoints = &p
	}
	if in.Relations != nil {
		issue.Relations = append([]Relation(nil), (*in.Relations)...)
	}
}
