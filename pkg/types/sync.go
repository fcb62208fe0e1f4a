package types

import (
	"sync"
	"time"
)

// SyncDirection selects which side(s) a run may write to
type SyncDirection string

const (
	DirectionGitHubToLocal SyncDirection = "GITHUB_TO_LOCAL"
	DirectionLocalToGitHub SyncDirection = "LOCAL_TO_GITHUB"
	DirectionBidirectional SyncDirection = "BIDIRECTIONAL"
)

// Pulls reports whether the direction writes to the local store.
func (d SyncDirection) Pulls() bool {
	return d == DirectionGitHubToLocal || d == DirectionBidirectional
}

// Pushes reports whether the direction writes to GitHub.
func (d SyncDirection) Pushes() bool {
	return d == DirectionLocalToGitHub || d == DirectionBidirectional
}

// Valid reports whether d is a known direction.
func (d SyncDirection) Valid() bool {
	return d.Pulls() || d.Pushes()
}

// SyncOptions controls a single run
type SyncOptions struct {
	Direction      SyncDirection `json:"syncDirection"`
	SyncLabels     bool          `json:"syncLabels"`
	SyncComments   bool          `json:"syncComments"`
	SyncMilestones bool          `json:"syncMilestones"`
	DryRun         bool          `json:"dryRun"`
}

// DefaultSyncOptions returns options with every sub-resource enabled.
func DefaultSyncOptions(direction SyncDirection) SyncOptions {
	return SyncOptions{
		Direction:      direction,
		SyncLabels:     true,
		SyncComments:   true,
		SyncMilestones: true,
	}
}

// IssueState is the per-issue reconciliation state within one run
type IssueState string

const (
	StateUnseen      IssueState = "UNSEEN"
	StateMatched     IssueState = "MATCHED"
	StateNoChange    IssueState = "NO_CHANGE"
	StateLocalNewer  IssueState = "LOCAL_NEWER"
	StateRemoteNewer IssueState = "REMOTE_NEWER"
	StateConflict    IssueState = "CONFLICT"
	StateApplied     IssueState = "APPLIED"
	StateSkipped     IssueState = "SKIPPED"
	StateFailed      IssueState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s IssueState) IsTerminal() bool {
	return s == StateApplied || s == StateSkipped || s == StateFailed
}

// SyncAction names what a run did (or would do) for one issue
type SyncAction string

const (
	ActionNone         SyncAction = "none"
	ActionCreateLocal  SyncAction = "create_local"
	ActionCreateRemote SyncAction = "create_remote"
	ActionUpdateLocal  SyncAction = "update_local"
	ActionUpdateRemote SyncAction = "update_remote"
	ActionLink         SyncAction = "link"
)

// Creates reports whether the action brings a new issue into existence on
// either side. Linking a crashed create finishes that create.
func (a SyncAction) Creates() bool {
	return a == ActionCreateLocal || a == ActionCreateRemote || a == ActionLink
}

// IssueOutcome records how one issue moved through a run
type IssueOutcome struct {
	IssueID        string     `json:"issueId,omitempty"`
	GitHubNumber   int        `json:"githubNumber,omitempty"`
	Title          string     `json:"title,omitempty"`
	Classification IssueState `json:"classification"`
	State          IssueState `json:"state"`
	Action         SyncAction `json:"action"`
	Reason         string     `json:"reason,omitempty"`
}

// SyncError is a single failure reported by a run
type SyncError struct {
	Entity  string    `json:"entity"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// SyncResult summarizes a run
type SyncResult struct {
	Success    bool           `json:"success"`
	Direction  SyncDirection  `json:"direction"`
	DryRun     bool           `json:"dryRun"`
	Synced     int            `json:"synced"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Errors     []SyncError    `json:"errors"`
	Outcomes   []IssueOutcome `json:"outcomes,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`

	mu sync.Mutex
}

// NewSyncResult starts an empty result for a run.
func NewSyncResult(opts SyncOptions, started time.Time) *SyncResult {
	return &SyncResult{
		Success:   true,
		Direction: opts.Direction,
		DryRun:    opts.DryRun,
		Errors:    []SyncError{},
		StartedAt: started,
	}
}

// Record adds an outcome and bumps exactly one counter for it.
func (r *SyncResult) Record(o IssueOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes = append(r.Outcomes, o)
	switch {
	case o.State == StateApplied && o.Action.Creates():
		r.Created++
	case o.State == StateApplied:
		r.Updated++
	default:
		r.Skipped++
	}
	r.Synced = r.Created + r.Updated
}

// AddError appends a failure and flips Success.
func (r *SyncResult) AddError(entity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, SyncError{Entity: entity, Kind: KindOf(err), Message: err.Error()})
	r.Success = false
}

// HasErrorKind reports whether any recorded error has the given kind.
func (r *SyncResult) HasErrorKind(kind ErrorKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Finish stamps the end time and recomputes Success from Errors.
func (r *SyncResult) Finish(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = now
	r.Success = len(r.Errors) == 0
}

// Merge folds another result into r. Used when a run is split into phases.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	other.mu.Lock()
	outcomes := append([]IssueOutcome(nil), other.Outcomes...)
	errs := append([]SyncError(nil), other.Errors...)
	created, updated, skipped := other.Created, other.Updated, other.Skipped
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes = append(r.Outcomes, outcomes...)
	r.Errors = append(r.Errors, errs...)
	r.Created += created
	r.Updated += updated
	r.Skipped += skipped
	r.Synced = r.Created + r.Updated
	r.Success = len(r.Errors) == 0
}
