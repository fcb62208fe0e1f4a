package api

import (
	"net/http"
	"strconv"

	"github.com/johnnynv/issuesync/pkg/types"
)

// handleListIssues lists the project's local issues
// @Summary List local issues
// @Tags Issues
// @Produce json
// @Param projectId path string true "Project ID"
// @Param syncStatus query string false "NOT_SYNCED, SYNCED, PENDING_SYNC or SYNC_FAILED"
// @Param limit query int false "Page size (max 500)" default(100)
// @Param offset query int false "Number of issues to skip" default(0)
// @Success 200 {object} JSONResponse{data=object} "Issues"
// @Router /api/v1/projects/{projectId}/issues [get]
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.IssueFilter{
		SyncStatus: types.SyncStatus(query.Get("syncStatus")),
		Limit:      100,
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			filter.Limit = l
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	issues, err := s.service.ListIssues(r.Context(), r.PathValue("projectId"), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []*types.Issue{}
	}
	NewJSONResponse(map[string]interface{}{
		"total":  len(issues),
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"issues": issues,
	}).Write(w)
}

// handleCreateIssue adds a local issue
// @Summary Create a local issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 201 {object} JSONResponse{data=object} "Created issue"
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/issues [post]
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var input types.IssueInput
	if err := decodeBody(r, &input, false); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	issue, err := s.service.CreateIssue(r.Context(), r.PathValue("projectId"), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(issue).WriteWithStatus(w, http.StatusCreated)
}

// handleGetIssue returns one local issue
// @Summary Get a local issue
// @Tags Issues
// @Produce json
// @Param projectId path string true "Project ID"
// @Param issueId path string true "Issue ID"
// @Success 200 {object} JSONResponse{data=object} "Issue"
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/issues/{issueId} [get]
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.service.GetIssue(r.Context(), r.PathValue("projectId"), r.PathValue("issueId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(issue).Write(w)
}

// handleUpdateIssue edits a local issue
// @Summary Update a local issue
// @Description Only the fields present in the body change
// @Tags Issues
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param issueId path string true "Issue ID"
// @Success 200 {object} JSONResponse{data=object} "Updated issue"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/issues/{issueId} [put]
func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var input types.IssueInput
	if err := decodeBody(r, &input, false); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	issue, err := s.service.UpdateIssue(r.Context(), r.PathValue("projectId"), r.PathValue("issueId"), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(issue).Write(w)
}

// handleDeleteIssue soft-deletes a local issue
// @Summary Delete a local issue
// @Tags Issues
// @Produce json
// @Param projectId path string true "Project ID"
// @Param issueId path string true "Issue ID"
// @Success 200 {object} JSONResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/issues/{issueId} [delete]
func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteIssue(r.Context(), r.PathValue("projectId"), r.PathValue("issueId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewMessageResponse("issue deleted").Write(w)
}

// handleListComments returns an issue's comments
// @Summary List comments
// @Tags Issues
// @Produce json
// @Param projectId path string true "Project ID"
// @Param issueId path string true "Issue ID"
// @Success 200 {object} JSONResponse{data=object} "Comments"
// @Router /api/v1/projects/{projectId}/issues/{issueId}/comments [get]
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.service.ListComments(r.Context(), r.PathValue("projectId"), r.PathValue("issueId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if comments == nil {
		comments = []*types.Comment{}
	}
	NewJSONResponse(comments).Write(w)
}

// handleAddComment appends a local comment
// @Summary Add a comment
// @Tags Issues
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param issueId path string true "Issue ID"
// @Success 201 {object} JSONResponse{data=object} "Comment"
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/issues/{issueId}/comments [post]
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	comment, err := s.service.AddComment(r.Context(), r.PathValue("projectId"), r.PathValue("issueId"), req.Author, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(comment).WriteWithStatus(w, http.StatusCreated)
}
