package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/johnnynv/issuesync/pkg/types"
)

// CloudEvents attributes sent as ce-* headers
const (
	SpecVersion = "1.0"
	Source      = "issuesync"

	EventSyncCompleted = "dev.issuesync.sync.completed"
	EventSyncFailed    = "dev.issuesync.sync.failed"
)

// Event is one CloudEvents envelope. Only Data goes in the request body.
type Event struct {
	ID              string    `json:"id"`
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Subject         string    `json:"subject,omitempty"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            SyncData  `json:"data"`
}

// SyncData summarizes one finished run
type SyncData struct {
	ProjectID  string              `json:"projectId"`
	Repository string              `json:"repository"`
	Direction  types.SyncDirection `json:"direction,omitempty"`
	DryRun     bool                `json:"dryRun"`
	Success    bool                `json:"success"`
	Synced     int                 `json:"synced"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Skipped    int                 `json:"skipped"`
	Conflicts  int                 `json:"conflicts"`
	Errors     []types.SyncError   `json:"errors,omitempty"`
	Duration   string              `json:"duration,omitempty"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// NewSyncEvent builds the event for a run. result is nil when the run
// aborted before producing one; runErr then carries the cause.
func NewSyncEvent(projectID, repository string, result *types.SyncResult, runErr error) Event {
	data := SyncData{
		ProjectID:  projectID,
		Repository: repository,
		FinishedAt: time.Now().UTC(),
	}

	if result != nil {
		data.Direction = result.Direction
		data.DryRun = result.DryRun
		data.Success = result.Success
		data.Synced = result.Synced
		data.Created = result.Created
		data.Updated = result.Updated
		data.Skipped = result.Skipped
		data.Errors = result.Errors
		data.FinishedAt = result.FinishedAt.UTC()
		data.Duration = result.FinishedAt.Sub(result.StartedAt).String()
		for _, o := range result.Outcomes {
			if o.Classification == types.StateConflict {
				data.Conflicts++
			}
		}
	}
	if runErr != nil {
		data.Success = false
		data.Errors = append(data.Errors, types.SyncError{
			Entity:  "run",
			Kind:    types.KindOf(runErr),
			Message: runErr.Error(),
		})
	}

	eventType := EventSyncCompleted
	if !data.Success {
		eventType = EventSyncFailed
	}

	return Event{
		ID:              uuid.NewString(),
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          Source,
		Subject:         projectID,
		Time:            data.FinishedAt,
		DataContentType: "application/json",
		Data:            data,
	}
}
