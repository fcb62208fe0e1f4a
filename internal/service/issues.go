package service

import (
	"context"
	"strings"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// ListIssues returns the project's local issues
func (s *Service) ListIssues(ctx context.Context, projectID string, filter types.IssueFilter) ([]*types.Issue, error) {
	return s.store.ListIssues(ctx, projectID, filter)
}

// GetIssue returns one local issue
func (s *Service) GetIssue(ctx context.Context, projectID, issueID string) (*types.Issue, error) {
	return s.store.GetIssue(ctx, projectID, issueID)
}

// CreateIssue adds a local issue. It is published by the next run that
// pushes.
func (s *Service) CreateIssue(ctx context.Context, projectID string, input types.IssueInput) (*types.Issue, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &types.ConfigurationError{Field: "projectId", Message: "is required"}
	}
	if input.Title == nil || strings.TrimSpace(*input.Title) == "" {
		return nil, &types.ConfigurationError{Field: "title", Message: "is required"}
	}

	now := s.now().UTC()
	issue := &types.Issue{
		ProjectID:  projectID,
		Status:     types.IssueStatusOpen,
		Priority:   types.IssuePriorityMedium,
		SyncStatus: types.SyncStatusNotSynced,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	input.Apply(issue)
	if err := validateIssue(issue); err != nil {
		return nil, err
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	if len(issue.Labels) > 0 {
		if err := s.store.UpsertLabels(ctx, projectID, issue.Labels); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logger.Fields{
		"operation":  "create_issue",
		"project_id": projectID,
		"issue_id":   issue.ID,
	}).Info("Local issue created")
	return issue, nil
}

// UpdateIssue applies input to a local issue. The edit bumps UpdatedAt so
// the next run sees a local change. It runs as a read-modify-write in the
// store, so sync stamps written by a concurrent run are kept.
func (s *Service) UpdateIssue(ctx context.Context, projectID, issueID string, input types.IssueInput) (*types.Issue, error) {
	now := s.now().UTC()
	issue, err := s.store.UpdateIssue(ctx, projectID, issueID, func(issue *types.Issue) error {
		if issue.IsDeleted() {
			return &types.NotFoundError{Resource: "issue", ID: issueID}
		}
		input.Apply(issue)
		if err := validateIssue(issue); err != nil {
			return err
		}
		issue.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if input.Labels != nil && len(issue.Labels) > 0 {
		if err := s.store.UpsertLabels(ctx, projectID, issue.Labels); err != nil {
			return nil, err
		}
	}
	return issue, nil
}

// DeleteIssue soft-deletes a local issue. The remote copy is left alone.
func (s *Service) DeleteIssue(ctx context.Context, projectID, issueID string) error {
	return s.store.DeleteIssue(ctx, projectID, issueID)
}

// AddComment appends a local comment, pushed by the next run that syncs
// comments
func (s *Service) AddComment(ctx context.Context, projectID, issueID, author, content string) (*types.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &types.ConfigurationError{Field: "content", Message: "is required"}
	}
	issue, err := s.store.GetIssue(ctx, projectID, issueID)
	if err != nil {
		return nil, err
	}
	if issue.IsDeleted() {
		return nil, &types.NotFoundError{Resource: "issue", ID: issueID}
	}

	comment := &types.Comment{
		IssueID:   issue.ID,
		Content:   content,
		Author:    author,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments returns an issue's comments
func (s *Service) ListComments(ctx context.Context, projectID, issueID string) ([]*types.Comment, error) {
	if _, err := s.store.GetIssue(ctx, projectID, issueID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, issueID)
}

func validateIssue(issue *types.Issue) error {
	if issue.Title == "" {
		return &types.ConfigurationError{Field: "title", Message: "is required"}
	}
	if !issue.Status.Valid() {
		return &types.ConfigurationError{Field: "status", Message: "unknown status " + string(issue.Status)}
	}
	if issue.StoryPoints != nil && *issue.StoryPoints < 0 {
		return &types.ConfigurationError{Field: "story_points", Message: "must not be negative"}
	}
	if issue.EstimatedHours != nil && *issue.EstimatedHours < 0 {
		return &types.ConfigurationError{Field: "estimated_hours", Message: "must not be negative"}
	}
	for _, l := range issue.Labels {
		if l.Name == "" {
			return &types.ConfigurationError{Field: "labels", Message: "label name is required"}
		}
	}
	return nil
}
