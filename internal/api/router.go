package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/johnnynv/issuesync/internal/api/middleware"

	// Import generated docs
	_ "github.com/johnnynv/issuesync/docs"
)

const projectPrefix = "/api/v1/projects/{projectId}"

// setupRouter configures all API routes
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)

	// Repository binding
	mux.HandleFunc("GET "+projectPrefix+"/github/repository", s.handleGetRepository)
	mux.HandleFunc("POST "+projectPrefix+"/github/repository", s.handleConfigureRepository)
	mux.HandleFunc("DELETE "+projectPrefix+"/github/repository", s.handleDeleteRepository)
	mux.HandleFunc("POST "+projectPrefix+"/github/repository/validate", s.handleValidateRepository)

	// Sync
	mux.HandleFunc("POST "+projectPrefix+"/github/sync/from-github", s.handleSync(s.service.SyncFromGitHub))
	mux.HandleFunc("POST "+projectPrefix+"/github/sync/to-github", s.handleSync(s.service.SyncToGitHub))
	mux.HandleFunc("POST "+projectPrefix+"/github/sync/bidirectional", s.handleSync(s.service.SyncBidirectional))
	mux.HandleFunc("GET "+projectPrefix+"/github/sync/status", s.handleSyncStatus)

	// Local issues
	mux.HandleFunc("GET "+projectPrefix+"/issues", s.handleListIssues)
	mux.HandleFunc("POST "+projectPrefix+"/issues", s.handleCreateIssue)
	mux.HandleFunc("GET "+projectPrefix+"/issues/{issueId}", s.handleGetIssue)
	mux.HandleFunc("PUT "+projectPrefix+"/issues/{issueId}", s.handleUpdateIssue)
	mux.HandleFunc("DELETE "+projectPrefix+"/issues/{issueId}", s.handleDeleteIssue)
	mux.HandleFunc("GET "+projectPrefix+"/issues/{issueId}/comments", s.handleListComments)
	mux.HandleFunc("POST "+projectPrefix+"/issues/{issueId}/comments", s.handleAddComment)

	// System endpoints
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	mux.HandleFunc("GET /api", s.handleAPIDocumentation)

	// Swagger UI
	mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Apply middleware
	handler := middleware.RequestLogger(s.logger)(mux)
	handler = middleware.CORS()(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}

// handleAPIDocumentation lists the endpoints in a compact form
func (s *Server) handleAPIDocumentation(w http.ResponseWriter, r *http.Request) {
	version := GetVersion()

	apiDoc := map[string]interface{}{
		"name":        "IssueSync API",
		"version":     version.API,
		"app_version": version.App,
		"description": "Bidirectional GitHub issue synchronization",
		"base_url":    r.Host,
		"endpoints": map[string]interface{}{
			"repository": map[string]string{
				"GET " + projectPrefix + "/github/repository":           "Redacted binding",
				"POST " + projectPrefix + "/github/repository":          "Save a validated binding",
				"DELETE " + projectPrefix + "/github/repository":        "Remove the binding",
				"POST " + projectPrefix + "/github/repository/validate": "Check credentials and permissions",
			},
			"sync": map[string]string{
				"POST " + projectPrefix + "/github/sync/from-github":   "Pull GitHub changes",
				"POST " + projectPrefix + "/github/sync/to-github":     "Push local changes",
				"POST " + projectPrefix + "/github/sync/bidirectional": "Reconcile both sides",
				"GET " + projectPrefix + "/github/sync/status":         "Counters and rate limit",
			},
			"issues": map[string]string{
				"GET " + projectPrefix + "/issues":                     "List local issues",
				"POST " + projectPrefix + "/issues":                    "Create a local issue",
				"GET " + projectPrefix + "/issues/{issueId}":           "Get a local issue",
				"PUT " + projectPrefix + "/issues/{issueId}":           "Update a local issue",
				"DELETE " + projectPrefix + "/issues/{issueId}":        "Soft-delete a local issue",
				"GET " + projectPrefix + "/issues/{issueId}/comments":  "List comments",
				"POST " + projectPrefix + "/issues/{issueId}/comments": "Add a comment",
			},
			"system": map[string]string{
				"GET /health":         "Component health",
				"GET /health/live":    "Liveness probe",
				"GET /health/ready":   "Readiness probe",
				"GET /status":         "Runtime status",
				"GET /api/v1/version": "Version information",
			},
		},
		"response_format": map[string]interface{}{
			"success":   "bool",
			"data":      "response payload",
			"error":     "error message on failure",
			"message":   "error kind or note",
			"timestamp": "RFC3339 timestamp",
		},
	}

	NewJSONResponse(apiDoc).Write(w)
}
