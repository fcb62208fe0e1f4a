package api

import (
	"context"
	"net/http"

	"github.com/johnnynv/issuesync/internal/api/middleware"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// handleGetRepository returns the project's binding
// @Summary Get repository binding
// @Tags Repository
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} JSONResponse{data=object} "Redacted binding"
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/repository [get]
func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	binding, err := s.service.GetRepository(r.Context(), r.PathValue("projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(binding).Write(w)
}

// handleConfigureRepository saves a validated binding
// @Summary Configure repository binding
// @Description Credentials must have been validated first
// @Tags Repository
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param body body ConfigureRepositoryRequest true "Binding"
// @Success 200 {object} JSONResponse{data=object} "Saved binding"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/repository [post]
func (s *Server) handleConfigureRepository(w http.ResponseWriter, r *http.Request) {
	var input types.BindingInput
	if err := decodeBody(r, &input, false); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	binding, err := s.service.ConfigureRepository(r.Context(), r.PathValue("projectId"), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := NewJSONResponse(binding)
	response.Message = "repository configured"
	response.Write(w)
}

// handleDeleteRepository removes the binding
// @Summary Delete repository binding
// @Tags Repository
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} JSONResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/repository [delete]
func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRepository(r.Context(), r.PathValue("projectId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewMessageResponse("repository binding deleted").Write(w)
}

// handleValidateRepository checks credentials against GitHub
// @Summary Validate repository credentials
// @Description A failed check is reported in the body with valid=false
// @Tags Repository
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param body body ValidateRepositoryRequest true "Credentials"
// @Success 200 {object} JSONResponse{data=object} "Validation result"
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/repository/validate [post]
func (s *Server) handleValidateRepository(w http.ResponseWriter, r *http.Request) {
	var req types.ValidateRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	result, err := s.service.ValidateRepository(r.Context(), r.PathValue("projectId"), req)
	if err != nil {
		if result == nil {
			s.writeError(w, r, err)
			return
		}
		// The caller gets the reason alongside valid=false
		response := NewJSONResponse(result)
		response.Success = false
		response.Error = err.Error()
		response.Message = string(types.KindOf(err))
		response.WriteWithStatus(w, StatusFor(err))
		return
	}
	NewJSONResponse(result).Write(w)
}

type syncFunc func(ctx context.Context, projectID string, opts types.SyncOptions) (*types.SyncResult, error)

// handleSync runs one sync in the direction fn picks
// @Summary Run a sync
// @Description from-github pulls, to-github pushes, bidirectional reconciles both sides
// @Tags Sync
// @Accept json
// @Produce json
// @Param projectId path string true "Project ID"
// @Param direction path string true "from-github, to-github or bidirectional"
// @Param body body SyncRequest false "Run options"
// @Success 200 {object} JSONResponse{data=SyncResultInfo} "Run result"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "A run is already in progress"
// @Failure 429 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/sync/{direction} [post]
func (s *Server) handleSync(fn syncFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if err := decodeBody(r, &req, true); err != nil {
			s.writeBadRequest(w, err)
			return
		}
		result, err := fn(r.Context(), r.PathValue("projectId"), req.options())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		response := NewJSONResponse(result)
		if !result.Success {
			response.Message = "sync finished with errors"
		}
		response.Write(w)
	}
}

// handleSyncStatus reports sync counters and the rate limit
// @Summary Get sync status
// @Tags Sync
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} JSONResponse{data=object} "Sync status"
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/projects/{projectId}/github/sync/status [get]
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetSyncStatus(r.Context(), r.PathValue("projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse(status).Write(w)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	entry := s.logger.WithFields(logger.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"error_kind": string(types.KindOf(err)),
		"request_id": middleware.RequestIDFrom(r.Context()),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	WriteError(w, err)
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	response := NewErrorResponse(err.Error())
	response.Message = string(types.KindConfiguration)
	response.WriteWithStatus(w, http.StatusBadRequest)
}
