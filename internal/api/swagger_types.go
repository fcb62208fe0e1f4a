package api

import "time"

// JSONResponse represents the standard API response format
// @Description Standard API response wrapper
type JSONResponse struct {
	Success   bool        `json:"success" example:"true"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp" example:"2026-01-05T10:00:00Z"`
} // @name JSONResponse

// ErrorResponse represents an error response
// @Description Standard error response format. message carries the error kind.
type ErrorResponse struct {
	Success   bool      `json:"success" example:"false"`
	Error     string    `json:"error" example:"binding not found: proj-1"`
	Message   string    `json:"message,omitempty" example:"NotFoundError"`
	Timestamp time.Time `json:"timestamp" example:"2026-01-05T10:00:00Z"`
} // @name ErrorResponse

// ValidateRepositoryRequest is the body of the validate endpoint
// @Description Repository credentials to check
type ValidateRepositoryRequest struct {
	Owner       string `json:"owner" example:"octo"`
	Name        string `json:"name" example:"hello"`
	AccessToken string `json:"accessToken" example:"ghp_xxx"`
} // @name ValidateRepositoryRequest

// ConfigureRepositoryRequest is the body of the configure endpoint
// @Description Binding to save after a successful validation
type ConfigureRepositoryRequest struct {
	Owner        string `json:"owner" example:"octo"`
	Name         string `json:"name" example:"hello"`
	AccessToken  string `json:"accessToken" example:"ghp_xxx"`
	AutoSync     bool   `json:"autoSync" example:"true"`
	SyncInterval int    `json:"syncInterval" example:"300"`
} // @name ConfigureRepositoryRequest

// SyncRequest is the body of the sync endpoints
// @Description Sub-resource switches for one run. Omitted flags default to true.
type SyncRequest struct {
	SyncLabels     bool `json:"syncLabels" example:"true"`
	SyncComments   bool `json:"syncComments" example:"true"`
	SyncMilestones bool `json:"syncMilestones" example:"true"`
	DryRun         bool `json:"dryRun" example:"false"`
} // @name SyncRequest

// SyncResultInfo summarizes a run
// @Description Counters and per-issue errors of a sync run
type SyncResultInfo struct {
	Success       bool   `json:"success" example:"true"`
	SyncDirection string `json:"syncDirection" example:"BIDIRECTIONAL"`
	Created       int    `json:"created" example:"2"`
	Updated       int    `json:"updated" example:"1"`
	Skipped       int    `json:"skipped" example:"10"`
	DryRun        bool   `json:"dryRun" example:"false"`
} // @name SyncResultInfo

// VersionInfo represents version information
// @Description Application and API version information
type VersionInfo struct {
	API     string `json:"api_version" example:"v1"`
	App     string `json:"app_version" example:"1.0.0"`
	Build   string `json:"build_time" example:"2026-01-05T10:00:00Z"`
	Commit  string `json:"git_commit" example:"abc123d"`
	Runtime string `json:"go_version" example:"go1.24.6"`

	// Directions lists the accepted syncDirection values
	Directions []string `json:"sync_directions" example:"GITHUB_TO_LOCAL,LOCAL_TO_GITHUB,BIDIRECTIONAL"`
} // @name VersionInfo
