// Package poller fires autoSync runs. Each active binding with autoSync
// enabled is scheduled every syncInterval seconds; a worker pool hands due
// bindings to the sync service.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// SyncRunner is the part of the sync service the poller drives
type SyncRunner interface {
	// AutoSyncBindings lists active bindings that want scheduled runs
	AutoSyncBindings(ctx context.Context) ([]*types.RepositoryBinding, error)

	// RunScheduled runs one bidirectional pass. A nil result with a nil
	// error means the tick was skipped.
	RunScheduled(ctx context.Context, projectID string) (*types.SyncResult, error)
}

// Poller defines the interface for the autoSync loop
type Poller interface {
	// Start begins the polling process
	Start(ctx context.Context) error

	// Stop gracefully stops the polling process
	Stop(ctx context.Context) error

	// SyncBinding runs one scheduled pass for a project right away
	SyncBinding(ctx context.Context, projectID string) (*TickResult, error)

	// Refresh reconciles the schedule with the stored bindings
	Refresh(ctx context.Context) ([]ScheduleChange, error)

	// GetStatus returns the current status of the poller
	GetStatus() PollerStatus

	// GetMetrics returns polling metrics
	GetMetrics() PollerMetrics
}

// BindingMonitor keeps the schedule in line with the stored bindings
type BindingMonitor interface {
	// CheckBindings compares stored bindings with the schedule
	CheckBindings(ctx context.Context) ([]ScheduleChange, error)
}

// Scheduler defines the interface for managing per-binding schedules
type Scheduler interface {
	// Schedule adds or refreshes a binding's schedule
	Schedule(binding *types.RepositoryBinding) error

	// Unschedule removes a binding from the schedule
	Unschedule(projectID string) error

	// GetNextPollTime returns the next scheduled run for a project
	GetNextPollTime(projectID string) (time.Time, bool)

	// Due returns the bindings whose next run is at or before now and
	// moves their next run one interval ahead
	Due(now time.Time) []ScheduledBinding

	// GetSchedulerStatus returns the current status of the scheduler
	GetSchedulerStatus() SchedulerStatus

	// GetScheduledBindings returns all currently scheduled bindings
	GetScheduledBindings() []ScheduledBinding
}

// TickResult is the outcome of one scheduled run
type TickResult struct {
	ProjectID string            `json:"project_id"`
	Success   bool              `json:"success"`
	Skipped   bool              `json:"skipped"`
	Error     error             `json:"error,omitempty"`
	Result    *types.SyncResult `json:"result,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// ScheduleChange is a difference found between stored bindings and the
// schedule
type ScheduleChange struct {
	ProjectID   string `json:"project_id"`
	Repository  string `json:"repository"`
	OldInterval int    `json:"old_interval,omitempty"`
	NewInterval int    `json:"new_interval,omitempty"`
	ChangeType  string `json:"change_type"` // new, updated, deleted
}

// PollerStatus represents the current status of the poller
type PollerStatus struct {
	Running        bool            `json:"running"`
	StartTime      time.Time       `json:"start_time,omitempty"`
	LastTickTime   time.Time       `json:"last_tick_time,omitempty"`
	ActiveBindings int             `json:"active_bindings"`
	WorkerCount    int             `json:"worker_count"`
	QueueSize      int             `json:"queue_size"`
	Bindings       []BindingStatus `json:"bindings"`
}

// BindingStatus represents the scheduling status of one binding
type BindingStatus struct {
	ProjectID    string    `json:"project_id"`
	Repository   string    `json:"repository"`
	Interval     int       `json:"interval"`
	LastRunTime  time.Time `json:"last_run_time,omitempty"`
	NextRunTime  time.Time `json:"next_run_time,omitempty"`
	LastSuccess  bool      `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	RunCount     int64     `json:"run_count"`
	SkippedCount int64     `json:"skipped_count"`
}

// PollerMetrics represents polling performance metrics
type PollerMetrics struct {
	TotalRuns          int64         `json:"total_runs"`
	SuccessfulRuns     int64         `json:"successful_runs"`
	FailedRuns         int64         `json:"failed_runs"`
	SkippedRuns        int64         `json:"skipped_runs"`
	DroppedTicks       int64         `json:"dropped_ticks"`
	IssuesCreated      int64         `json:"issues_created"`
	IssuesUpdated      int64         `json:"issues_updated"`
	AverageRunDuration time.Duration `json:"average_run_duration"`
	LastResetTime      time.Time     `json:"last_reset_time"`
	Uptime             time.Duration `json:"uptime"`
}

// PollerConfig represents configuration for the poller
type PollerConfig struct {
	// Tick is how often the loop looks for due bindings
	Tick       time.Duration `yaml:"tick" json:"tick"`
	MaxWorkers int           `yaml:"max_workers" json:"max_workers"`
	QueueSize  int           `yaml:"queue_size" json:"queue_size"`
}

// GetDefaultPollerConfig returns default poller configuration
func GetDefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Tick:       30 * time.Second,
		MaxWorkers: 2,
		QueueSize:  32,
	}
}

// Validate checks the poller configuration
func (c PollerConfig) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// ChangeType constants
const (
	ChangeTypeNew     = "new"
	ChangeTypeUpdated = "updated"
	ChangeTypeDeleted = "deleted"
)

func (sc *ScheduleChange) IsValid() bool {
	return sc.ProjectID != "" && sc.ChangeType != ""
}

func (sc *ScheduleChange) IsNew() bool {
	return sc.ChangeType == ChangeTypeNew
}

func (sc *ScheduleChange) IsUpdated() bool {
	return sc.ChangeType == ChangeTypeUpdated && sc.OldInterval != sc.NewInterval
}

func (sc *ScheduleChange) IsDeleted() bool {
	return sc.ChangeType == ChangeTypeDeleted
}
