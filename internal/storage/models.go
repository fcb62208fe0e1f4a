package storage

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// SQLiteBinding represents a repository binding row
type SQLiteBinding struct {
	ProjectID    string       `db:"project_id"`
	Owner        string       `db:"owner"`
	Name         string       `db:"name"`
	FullName     string       `db:"full_name"`
	Token        string       `db:"token"`
	AutoSync     bool         `db:"auto_sync"`
	SyncInterval int          `db:"sync_interval"`
	IsActive     bool         `db:"is_active"`
	HTMLURL      string       `db:"html_url"`
	IsPrivate    bool         `db:"is_private"`
	LastSyncAt   sql.NullTime `db:"last_sync_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// ToBinding converts SQLiteBinding to types.RepositoryBinding
func (b *SQLiteBinding) ToBinding() *types.RepositoryBinding {
	return &types.RepositoryBinding{
		ProjectID:    b.ProjectID,
		Owner:        b.Owner,
		Name:         b.Name,
		FullName:     b.FullName,
		Token:        b.Token,
		AutoSync:     b.AutoSync,
		SyncInterval: b.SyncInterval,
		IsActive:     b.IsActive,
		HTMLURL:      b.HTMLURL,
		IsPrivate:    b.IsPrivate,
		LastSyncAt:   nullTimePtr(b.LastSyncAt),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func (b *SQLiteBinding) scanFields() []interface{} {
	return []interface{}{
		&b.ProjectID, &b.Owner, &b.Name, &b.FullName, &b.Token,
		&b.AutoSync, &b.SyncInterval, &b.IsActive, &b.HTMLURL, &b.IsPrivate,
		&b.LastSyncAt, &b.CreatedAt, &b.UpdatedAt,
	}
}

const bindingColumns = `project_id, owner, name, full_name, token, auto_sync, sync_interval,
	is_active, html_url, is_private, last_sync_at, created_at, updated_at`

// SQLiteIssue represents an issue row. Labels live in issue_labels.
type SQLiteIssue struct {
	ID             string          `db:"id"`
	ProjectID      string          `db:"project_id"`
	Number         int             `db:"number"`
	Title          string          `db:"title"`
	Description    string          `db:"description"`
	Status         string          `db:"status"`
	Priority       string          `db:"priority"`
	Severity       string          `db:"severity"`
	Type           string          `db:"type"`
	Assignee       string          `db:"assignee"`
	MilestoneTitle string          `db:"milestone_title"`
	DueDate        sql.NullTime    `db:"due_date"`
	EstimatedHours sql.NullFloat64 `db:"estimated_hours"`
	StoryPoints    sql.NullInt64   `db:"story_points"`
	Relations      RelationsJSON   `db:"relations"`
	GitHubID       sql.NullInt64   `db:"github_id"`
	GitHubNumber   sql.NullInt64   `db:"github_number"`
	GitHubURL      string          `db:"github_url"`
	SyncStatus     string          `db:"sync_status"`
	SyncError      string          `db:"sync_error"`
	LastSyncAt     sql.NullTime    `db:"last_sync_at"`
	SyncMarker     string          `db:"sync_marker"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	DeletedAt      sql.NullTime    `db:"deleted_at"`
}

const issueColumns = `id, project_id, number, title, description, status, priority, severity, type,
	assignee, milestone_title, due_date, estimated_hours, story_points, relations,
	github_id, github_number, github_url, sync_status, sync_error, last_sync_at, sync_marker,
	created_at, updated_at, deleted_at`

func (i *SQLiteIssue) scanFields() []interface{} {
	return []interface{}{
		&i.ID, &i.ProjectID, &i.Number, &i.Title, &i.Description, &i.Status, &i.Priority,
		&i.Severity, &i.Type, &i.Assignee, &i.MilestoneTitle, &i.DueDate, &i.EstimatedHours,
		&i.StoryPoints, &i.Relations, &i.GitHubID, &i.GitHubNumber, &i.GitHubURL,
		&i.SyncStatus, &i.SyncError, &i.LastSyncAt, &i.SyncMarker,
		&i.CreatedAt, &i.UpdatedAt, &i.DeletedAt,
	}
}

// values returns column values in issueColumns order
func (i *SQLiteIssue) values() []interface{} {
	return []interface{}{
		i.ID, i.ProjectID, i.Number, i.Title, i.Description, i.Status, i.Priority,
		i.Severity, i.Type, i.Assignee, i.MilestoneTitle, i.DueDate, i.EstimatedHours,
		i.StoryPoints, i.Relations, i.GitHubID, i.GitHubNumber, i.GitHubURL,
		i.SyncStatus, i.SyncError, i.LastSyncAt, i.SyncMarker,
		i.CreatedAt, i.UpdatedAt, i.DeletedAt,
	}
}

// ToIssue converts SQLiteIssue to types.Issue
func (i *SQLiteIssue) ToIssue() *types.Issue {
	issue := &types.Issue{
		ID:             i.ID,
		ProjectID:      i.ProjectID,
		Number:         i.Number,
		Title:          i.Title,
		Description:    i.Description,
		Status:         types.IssueStatus(i.Status),
		Priority:       types.IssuePriority(i.Priority),
		Severity:       types.IssueSeverity(i.Severity),
		Type:           types.IssueType(i.Type),
		Assignee:       i.Assignee,
		Labels:         []types.Label{},
		MilestoneTitle: i.MilestoneTitle,
		DueDate:        nullTimePtr(i.DueDate),
		Relations:      []types.Relation(i.Relations),
		GitHubURL:      i.GitHubURL,
		SyncStatus:     types.SyncStatus(i.SyncStatus),
		SyncError:      i.SyncError,
		LastSyncAt:     nullTimePtr(i.LastSyncAt),
		SyncMarker:     i.SyncMarker,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
		DeletedAt:      nullTimePtr(i.DeletedAt),
	}
	if i.EstimatedHours.Valid {
		v := i.EstimatedHours.Float64
		issue.EstimatedHours = &v
	}
	if i.StoryPoints.Valid {
		v := int(i.StoryPoints.Int64)
		issue.StoryPoints = &v
	}
	if i.GitHubID.Valid {
		v := i.GitHubID.Int64
		issue.GitHubID = &v
	}
	if i.GitHubNumber.Valid {
		v := int(i.GitHubNumber.Int64)
		issue.GitHubNumber = &v
	}
	return issue
}

// FromIssue converts types.Issue to SQLiteIssue
func (i *SQLiteIssue) FromIssue(issue *types.Issue) {
	i.ID = issue.ID
	i.ProjectID = issue.ProjectID
	i.Number = issue.Number
	i.Title = issue.Title
	i.Description = issue.Description
	i.Status = string(issue.Status)
	i.Priority = string(issue.Priority)
	i.Severity = string(issue.Severity)
	i.Type = string(issue.Type)
	i.Assignee = issue.Assignee
	i.MilestoneTitle = issue.MilestoneTitle
	i.DueDate = timeToNull(issue.DueDate)
	i.Relations = RelationsJSON(issue.Relations)
	i.GitHubURL = issue.GitHubURL
	i.SyncStatus = string(issue.SyncStatus)
	i.SyncError = issue.SyncError
	i.LastSyncAt = timeToNull(issue.LastSyncAt)
	i.SyncMarker = issue.SyncMarker
	i.CreatedAt = issue.CreatedAt.UTC()
	i.UpdatedAt = issue.UpdatedAt.UTC()
	i.DeletedAt = timeToNull(issue.DeletedAt)

	i.EstimatedHours = sql.NullFloat64{}
	if issue.EstimatedHours != nil {
		i.EstimatedHours = sql.NullFloat64{Float64: *issue.EstimatedHours, Valid: true}
	}
	i.StoryPoints = sql.NullInt64{}
	if issue.StoryPoints != nil {
		i.StoryPoints = sql.NullInt64{Int64: int64(*issue.StoryPoints), Valid: true}
	}
	i.GitHubID = sql.NullInt64{}
	if issue.GitHubID != nil {
		i.GitHubID = sql.NullInt64{Int64: *issue.GitHubID, Valid: true}
	}
	i.GitHubNumber = sql.NullInt64{}
	if issue.GitHubNumber != nil {
		i.GitHubNumber = sql.NullInt64{Int64: int64(*issue.GitHubNumber), Valid: true}
	}
}

// RelationsJSON handles JSON serialization for issue relations
type RelationsJSON []types.Relation

// Value implements driver.Valuer interface for database storage
func (r RelationsJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}

	data, err := json.Marshal([]types.Relation(r))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relations: %w", err)
	}

	return string(data), nil
}

// Scan implements sql.Scanner interface for database retrieval
func (r *RelationsJSON) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RelationsJSON", value)
	}

	if len(data) == 0 {
		*r = nil
		return nil
	}

	var result []types.Relation
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to unmarshal relations: %w", err)
	}

	*r = RelationsJSON(result)
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
