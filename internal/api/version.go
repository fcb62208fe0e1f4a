package api

import (
	"runtime"

	"github.com/johnnynv/issuesync/pkg/types"
)

// Build metadata reported by /api/v1/version and /status. The binary fills
// these through SetBuildInfo.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// APIVersion is the route prefix generation served by this build
const APIVersion = "v1"

// SetBuildInfo records build metadata. Empty values keep the defaults.
func SetBuildInfo(version, buildTime, commit string) {
	if version != "" {
		Version = version
	}
	if buildTime != "" {
		BuildTime = buildTime
	}
	if commit != "" {
		GitCommit = commit
	}
}

// BuildVersion describes the running build and the sync directions it
// accepts, so clients can feature-check before calling the sync routes
type BuildVersion struct {
	API        string                `json:"api_version"`
	App        string                `json:"app_version"`
	Build      string                `json:"build_time"`
	Commit     string                `json:"git_commit"`
	Runtime    string                `json:"go_version"`
	Directions []types.SyncDirection `json:"sync_directions"`
}

// GetVersion returns the current build description
func GetVersion() BuildVersion {
	return BuildVersion{
		API:     APIVersion,
		App:     Version,
		Build:   BuildTime,
		Commit:  GitCommit,
		Runtime: runtime.Version(),
		Directions: []types.SyncDirection{
			types.DirectionGitHubToLocal,
			types.DirectionLocalToGitHub,
			types.DirectionBidirectional,
		},
	}
}
