package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/johnnynv/issuesync/pkg/types"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db               *sql.DB
	config           *types.SQLiteConfig
	migrationManager *MigrationManager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *types.SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		return nil, fmt.Errorf("SQLite config is required")
	}

	inMemory := config.Path == ":memory:"

	// Ensure directory exists (skip for in-memory database)
	if !inMemory {
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	timeout := config.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Immediate transactions take the write lock at BEGIN, so a
	// read-modify-write never has to upgrade a read lock
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=1&_txlock=immediate&_timeout=%d", config.Path, timeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	maxConns := config.MaxConnections
	if inMemory || maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns((maxConns + 1) / 2)
	db.SetConnMaxLifetime(time.Hour)
	if inMemory {
		db.SetConnMaxLifetime(0)
	}

	storage := &SQLiteStorage{
		db:               db,
		config:           config,
		migrationManager: NewMigrationManager(db),
	}

	return storage, nil
}

// Initialize initializes the database and runs migrations
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	// Test connection
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	version, err := s.migrationManager.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if latest := s.migrationManager.LatestVersion(); version > latest {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, latest)
	}

	if err := s.migrationManager.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck checks if the database is accessible
func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveBinding inserts or replaces the binding for a project
func (s *SQLiteStorage) SaveBinding(ctx context.Context, binding *types.RepositoryBinding) error {
	query := `
		INSERT INTO repository_bindings (` + bindingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			full_name = excluded.full_name,
			token = excluded.token,
			auto_sync = excluded.auto_sync,
			sync_interval = excluded.sync_interval,
			is_active = excluded.is_active,
			html_url = excluded.html_url,
			is_private = excluded.is_private,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = now
	}
	binding.UpdatedAt = now
	if binding.FullName == "" {
		binding.FullName = binding.Owner + "/" + binding.Name
	}

	_, err := s.db.ExecContext(ctx, query,
		binding.ProjectID, binding.Owner, binding.Name, binding.FullName, binding.Token,
		binding.AutoSync, binding.SyncInterval, binding.IsActive, binding.HTMLURL, binding.IsPrivate,
		timeToNull(binding.LastSyncAt), binding.CreatedAt.UTC(), binding.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save repository binding: %w", err)
	}

	return nil
}

// GetBinding retrieves the binding for a project
func (s *SQLiteStorage) GetBinding(ctx context.Context, projectID string) (*types.RepositoryBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM repository_bindings WHERE project_id = ?`

	var row SQLiteBinding
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(row.scanFields()...)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Resource: "repository binding", ID: projectID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository binding: %w", err)
	}

	return row.ToBinding(), nil
}

// ListBindings retrieves every binding
func (s *SQLiteStorage) ListBindings(ctx context.Context) ([]*types.RepositoryBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM repository_bindings ORDER BY project_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query repository bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*types.RepositoryBinding
	for rows.Next() {
		var row SQLiteBinding
		if err := rows.Scan(row.scanFields()...); err != nil {
			return nil, fmt.Errorf("failed to scan repository binding: %w", err)
		}
		bindings = append(bindings, row.ToBinding())
	}

	return bindings, rows.Err()
}

// DeleteBinding removes the binding for a project. Issues are kept.
func (s *SQLiteStorage) DeleteBinding(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM repository_bindings WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("failed to delete repository binding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &types.NotFoundError{Resource: "repository binding", ID: projectID}
	}

	return nil
}

// UpdateBindingSyncTime advances the binding watermark
func (s *SQLiteStorage) UpdateBindingSyncTime(ctx context.Context, projectID string, at time.Time) error {
	query := `UPDATE repository_bindings SET last_sync_at = ?, updated_at = ? WHERE project_id = ?`

	result, err := s.db.ExecContext(ctx, query, at.UTC(), time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update binding sync time: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &types.NotFoundError{Resource: "repository binding", ID: projectID}
	}

	return nil
}

// CreateIssue inserts a new issue, assigning id, local number and timestamps
// when they are unset.
func (s *SQLiteStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}
	if issue.Status == "" {
		issue.Status = types.IssueStatusOpen
	}
	if issue.SyncStatus == "" {
		issue.SyncStatus = types.SyncStatusNotSynced
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if issue.Number == 0 {
			err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(number), 0) + 1 FROM issues WHERE project_id = ?",
				issue.ProjectID).Scan(&issue.Number)
			if err != nil {
				return fmt.Errorf("failed to allocate issue number: %w", err)
			}
		}

		var row SQLiteIssue
		row.FromIssue(issue)

		query := `INSERT INTO issues (` + issueColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, row.values()...); err != nil {
			if isUniqueConstraintError(err) {
				return &types.ConflictUnresolvableError{IssueID: issue.ID, Reason: "github id already linked to another issue"}
			}
			return fmt.Errorf("failed to create issue: %w", err)
		}

		return replaceLabels(ctx, tx, issue.ID, issue.Labels)
	})
}

// SaveIssue overwrites an existing issue and its labels in one transaction
func (s *SQLiteStorage) SaveIssue(ctx context.Context, issue *types.Issue) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveIssue(ctx, tx, issue)
	})
}

// UpdateIssue re-reads the issue in a write transaction, applies mutate and
// saves the result. Identity fields are restored after mutate.
func (s *SQLiteStorage) UpdateIssue(ctx context.Context, projectID, issueID string, mutate func(issue *types.Issue) error) (*types.Issue, error) {
	var updated *types.Issue
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		issue, err := getIssue(ctx, tx, projectID, issueID)
		if err != nil {
			return err
		}
		if err := mutate(issue); err != nil {
			return err
		}
		issue.ID, issue.ProjectID = issueID, projectID
		if err := saveIssue(ctx, tx, issue); err != nil {
			return err
		}
		updated = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetIssue retrieves one issue with its labels, including soft-deleted ones
func (s *SQLiteStorage) GetIssue(ctx context.Context, projectID, issueID string) (*types.Issue, error) {
	return getIssue(ctx, s.db, projectID, issueID)
}

// queryer is the read side shared by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getIssue(ctx context.Context, q queryer, projectID, issueID string) (*types.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE project_id = ? AND id = ?`

	var row SQLiteIssue
	err := q.QueryRowContext(ctx, query, projectID, issueID).Scan(row.scanFields()...)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Resource: "issue", ID: issueID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	issue := row.ToIssue()
	labels, err := loadLabels(ctx, q, []string{issue.ID})
	if err != nil {
		return nil, err
	}
	if l, ok := labels[issue.ID]; ok {
		issue.Labels = l
	}

	return issue, nil
}

func saveIssue(ctx context.Context, tx *sql.Tx, issue *types.Issue) error {
	var row SQLiteIssue
	row.FromIssue(issue)

	query := `
		UPDATE issues SET
			title = ?, description = ?, status = ?, priority = ?, severity = ?, type = ?,
			assignee = ?, milestone_title = ?, due_date = ?, estimated_hours = ?, story_points = ?,
			relations = ?, github_id = ?, github_number = ?, github_url = ?, sync_status = ?,
			sync_error = ?, last_sync_at = ?, sync_marker = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND project_id = ?
	`

	result, err := tx.ExecContext(ctx, query,
		row.Title, row.Description, row.Status, row.Priority, row.Severity, row.Type,
		row.Assignee, row.MilestoneTitle, row.DueDate, row.EstimatedHours, row.StoryPoints,
		row.Relations, row.GitHubID, row.GitHubNumber, row.GitHubURL, row.SyncStatus,
		row.SyncError, row.LastSyncAt, row.SyncMarker, row.UpdatedAt, row.DeletedAt,
		row.ID, row.ProjectID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &types.ConflictUnresolvableError{IssueID: issue.ID, Reason: "github id already linked to another issue"}
		}
		return fmt.Errorf("failed to save issue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &types.NotFoundError{Resource: "issue", ID: issue.ID}
	}

	return replaceLabels(ctx, tx, issue.ID, issue.Labels)
}

// ListIssues retrieves the issues of a project ordered by local number
func (s *SQLiteStorage) ListIssues(ctx context.Context, projectID string, filter types.IssueFilter) ([]*types.Issue, error) {
	var (
		conditions = []string{"project_id = ?"}
		args       = []interface{}{projectID}
	)
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.SyncStatus))
	}

	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY number`
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var (
		issues []*types.Issue
		ids    []string
	)
	for rows.Next() {
		var row SQLiteIssue
		if err := rows.Scan(row.scanFields()...); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue := row.ToIssue()
		issues = append(issues, issue)
		ids = append(ids, issue.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over issues: %w", err)
	}
	rows.Close()

	labels, err := loadLabels(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		if l, ok := labels[issue.ID]; ok {
			issue.Labels = l
		}
	}

	return issues, nil
}

// DeleteIssue soft-deletes an issue. The change bumps UpdatedAt so the next
// run sees a local modification.
func (s *SQLiteStorage) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	now := time.Now().UTC()
	query := `UPDATE issues SET deleted_at = ?, updated_at = ? WHERE project_id = ? AND id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, now, now, projectID, issueID)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &types.NotFoundError{Resource: "issue", ID: issueID}
	}

	return nil
}

// CreateComment inserts a comment. A comment that repeats a known github id
// for the same issue is ignored.
func (s *SQLiteStorage) CreateComment(ctx context.Context, comment *types.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	var githubID sql.NullInt64
	if comment.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *comment.GitHubID, Valid: true}
	}

	query := `
		INSERT INTO comments (id, issue_id, content, author, github_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id, github_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		comment.ID, comment.IssueID, comment.Content, comment.Author, githubID, comment.CreatedAt.UTC())
	if err != nil {
		if isForeignKeyError(err) {
			return &types.NotFoundError{Resource: "issue", ID: comment.IssueID}
		}
		return fmt.Errorf("failed to create comment: %w", err)
	}

	return nil
}

// ListComments retrieves the comments of an issue oldest first
func (s *SQLiteStorage) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	query := `
		SELECT id, issue_id, content, author, github_id, created_at
		FROM comments
		WHERE issue_id = ?
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []*types.Comment
	for rows.Next() {
		var (
			c        types.Comment
			githubID sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Content, &c.Author, &githubID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if githubID.Valid {
			v := githubID.Int64
			c.GitHubID = &v
		}
		comments = append(comments, &c)
	}

	return comments, rows.Err()
}

// SetCommentGitHubID stamps a pushed comment with its remote id
func (s *SQLiteStorage) SetCommentGitHubID(ctx context.Context, commentID string, githubID int64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE comments SET github_id = ? WHERE id = ?", githubID, commentID)
	if err != nil {
		return fmt.Errorf("failed to stamp comment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &types.NotFoundError{Resource: "comment", ID: commentID}
	}

	return nil
}

// UpsertLabels records labels in the project catalogue
func (s *SQLiteStorage) UpsertLabels(ctx context.Context, projectID string, labels []types.Label) error {
	if len(labels) == 0 {
		return nil
	}

	query := `
		INSERT INTO labels (project_id, name, color, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			color = excluded.color,
			description = excluded.description
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range labels {
			if _, err := tx.ExecContext(ctx, query, projectID, l.Name, types.NormalizeColor(l.Color), l.Description); err != nil {
				return fmt.Errorf("failed to upsert label %s: %w", l.Name, err)
			}
		}
		return nil
	})
}

// ListLabels retrieves the project label catalogue
func (s *SQLiteStorage) ListLabels(ctx context.Context, projectID string) ([]types.Label, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, color, description FROM labels WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	labels := []types.Label{}
	for rows.Next() {
		var l types.Label
		if err := rows.Scan(&l.Name, &l.Color, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}

	return labels, rows.Err()
}

// UpsertMilestone records a milestone by title
func (s *SQLiteStorage) UpsertMilestone(ctx context.Context, milestone *types.Milestone) error {
	query := `
		INSERT INTO milestones (project_id, title, description, state, due_on, github_number)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, title) DO UPDATE SET
			description = excluded.description,
			state = excluded.state,
			due_on = excluded.due_on,
			github_number = COALESCE(excluded.github_number, milestones.github_number)
	`

	var number sql.NullInt64
	if milestone.GitHubNumber != nil {
		number = sql.NullInt64{Int64: int64(*milestone.GitHubNumber), Valid: true}
	}
	state := milestone.State
	if state == "" {
		state = "open"
	}

	_, err := s.db.ExecContext(ctx, query,
		milestone.ProjectID, milestone.Title, milestone.Description, state, timeToNull(milestone.DueOn), number)
	if err != nil {
		return fmt.Errorf("failed to upsert milestone: %w", err)
	}

	return nil
}

// ListMilestones retrieves the milestones of a project
func (s *SQLiteStorage) ListMilestones(ctx context.Context, projectID string) ([]*types.Milestone, error) {
	query := `
		SELECT project_id, title, description, state, due_on, github_number
		FROM milestones
		WHERE project_id = ?
		ORDER BY title
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var milestones []*types.Milestone
	for rows.Next() {
		var (
			m      types.Milestone
			dueOn  sql.NullTime
			number sql.NullInt64
		)
		if err := rows.Scan(&m.ProjectID, &m.Title, &m.Description, &m.State, &dueOn, &number); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.DueOn = nullTimePtr(dueOn)
		if number.Valid {
			v := int(number.Int64)
			m.GitHubNumber = &v
		}
		milestones = append(milestones, &m)
	}

	return milestones, rows.Err()
}

// GetIssueStats groups the live issues of a project by sync status
func (s *SQLiteStorage) GetIssueStats(ctx context.Context, projectID string) (*types.IssueStats, error) {
	query := `
		SELECT sync_status, COUNT(*)
		FROM issues
		WHERE project_id = ? AND deleted_at IS NULL
		GROUP BY sync_status
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issue stats: %w", err)
	}
	defer rows.Close()

	stats := &types.IssueStats{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan issue stats: %w", err)
		}
		stats.TotalIssues += count
		switch types.SyncStatus(status) {
		case types.SyncStatusSynced:
			stats.SyncedIssues = count
		case types.SyncStatusPendingSync:
			stats.PendingSync = count
		case types.SyncStatusSyncFailed:
			stats.FailedSync = count
		default:
			stats.NotSynced += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over issue stats: %w", err)
	}

	return stats, nil
}

// GetStats retrieves storage statistics
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM repository_bindings) as total_bindings,
			(SELECT COUNT(*) FROM repository_bindings WHERE is_active = 1) as active_bindings,
			(SELECT COUNT(*) FROM issues WHERE deleted_at IS NULL) as total_issues,
			(SELECT COUNT(*) FROM issues WHERE github_id IS NOT NULL AND deleted_at IS NULL) as linked_issues,
			(SELECT COUNT(*) FROM issues WHERE sync_status = 'SYNC_FAILED' AND deleted_at IS NULL) as failed_issues,
			(SELECT COUNT(*) FROM comments) as total_comments,
			(SELECT MAX(last_sync_at) FROM repository_bindings) as last_sync_time
	`

	var (
		stats           StorageStats
		lastSyncTimeStr sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalBindings, &stats.ActiveBindings, &stats.TotalIssues,
		&stats.LinkedIssues, &stats.FailedIssues, &stats.TotalComments, &lastSyncTimeStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage stats: %w", err)
	}

	// MAX() loses the column type, so the timestamp comes back as text
	if lastSyncTimeStr.Valid && lastSyncTimeStr.String != "" {
		for _, layout := range sqlite3.SQLiteTimestampFormats {
			if t, err := time.Parse(layout, lastSyncTimeStr.String); err == nil {
				stats.LastSyncTime = t
				break
			}
		}
	}

	// Get database file size
	if fileInfo, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return &stats, nil
}

func loadLabels(ctx context.Context, q queryer, issueIDs []string) (map[string][]types.Label, error) {
	result := make(map[string][]types.Label, len(issueIDs))
	if len(issueIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(issueIDs)), ",")
	args := make([]interface{}, len(issueIDs))
	for i, id := range issueIDs {
		args[i] = id
	}

	query := `SELECT issue_id, name, color, description FROM issue_labels
		WHERE issue_id IN (` + placeholders + `) ORDER BY issue_id, name`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issue labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			issueID string
			l       types.Label
		)
		if err := rows.Scan(&issueID, &l.Name, &l.Color, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan issue label: %w", err)
		}
		result[issueID] = append(result[issueID], l)
	}

	return result, rows.Err()
}

func replaceLabels(ctx context.Context, tx *sql.Tx, issueID string, labels []types.Label) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_labels WHERE issue_id = ?", issueID); err != nil {
		return fmt.Errorf("failed to clear issue labels: %w", err)
	}

	query := `INSERT OR REPLACE INTO issue_labels (issue_id, name, color, description) VALUES (?, ?, ?, ?)`
	for _, l := range labels {
		if _, err := tx.ExecContext(ctx, query, issueID, l.Name, types.NormalizeColor(l.Color), l.Description); err != nil {
			return fmt.Errorf("failed to save issue label %s: %w", l.Name, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing only when fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueConstraintError checks if error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
