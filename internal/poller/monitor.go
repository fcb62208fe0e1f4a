package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// BindingMonitorImpl implements the BindingMonitor interface. It diffs the
// bindings that want autoSync against the scheduler and applies the
// difference.
type BindingMonitorImpl struct {
	runner    SyncRunner
	scheduler Scheduler
	logger    *logger.Entry
}

// NewBindingMonitor creates a new binding monitor
func NewBindingMonitor(runner SyncRunner, scheduler Scheduler, parentLogger *logger.Entry) *BindingMonitorImpl {
	return &BindingMonitorImpl{
		runner:    runner,
		scheduler: scheduler,
		logger: parentLogger.WithFields(logger.Fields{
			"component": "poller",
			"module":    "binding_monitor",
		}),
	}
}

// CheckBindings brings the schedule in line with the stored bindings and
// returns what changed
func (bm *BindingMonitorImpl) CheckBindings(ctx context.Context) ([]ScheduleChange, error) {
	startTime := time.Now()

	current, err := bm.runner.AutoSyncBindings(ctx)
	if err != nil {
		bm.logger.WithError(err).WithFields(logger.Fields{
			"operation": "check_bindings",
		}).Error("Failed to list autoSync bindings")
		return nil, fmt.Errorf("failed to list autoSync bindings: %w", err)
	}

	scheduled := make(map[string]ScheduledBinding)
	for _, sb := range bm.scheduler.GetScheduledBindings() {
		scheduled[sb.ProjectID] = sb
	}

	var changes []ScheduleChange
	seen := make(map[string]bool, len(current))

	for _, b := range current {
		seen[b.ProjectID] = true
		old, exists := scheduled[b.ProjectID]

		if err := bm.scheduler.Schedule(b); err != nil {
			bm.logger.WithError(err).WithFields(logger.Fields{
				"operation":  "check_bindings",
				"project_id": b.ProjectID,
			}).Error("Failed to schedule binding")
			continue
		}

		if !exists {
			changes = append(changes, ScheduleChange{
				ProjectID:   b.ProjectID,
				Repository:  b.FullName,
				NewInterval: b.SyncInterval,
				ChangeType:  ChangeTypeNew,
			})
			bm.logger.WithFields(logger.Fields{
				"operation":  "check_bindings",
				"project_id": b.ProjectID,
				"repository": b.FullName,
			}).Info("Detected new autoSync binding")
		} else if old.Interval != b.SyncInterval {
			changes = append(changes, ScheduleChange{
				ProjectID:   b.ProjectID,
				Repository:  b.FullName,
				OldInterval: old.Interval,
				NewInterval: b.SyncInterval,
				ChangeType:  ChangeTypeUpdated,
			})
			bm.logger.WithFields(logger.Fields{
				"operation":    "check_bindings",
				"project_id":   b.ProjectID,
				"old_interval": old.Interval,
				"new_interval": b.SyncInterval,
			}).Info("Detected sync interval change")
		}
	}

	for projectID, old := range scheduled {
		if seen[projectID] {
			continue
		}
		if err := bm.scheduler.Unschedule(projectID); err != nil {
			bm.logger.WithError(err).WithFields(logger.Fields{
				"operation":  "check_bindings",
				"project_id": projectID,
			}).Error("Failed to unschedule binding")
			continue
		}
		changes = append(changes, ScheduleChange{
			ProjectID:   projectID,
			Repository:  old.Repository,
			OldInterval: old.Interval,
			ChangeType:  ChangeTypeDeleted,
		})
		bm.logger.WithFields(logger.Fields{
			"operation":  "check_bindings",
			"project_id": projectID,
		}).Info("Binding no longer wants autoSync")
	}

	bm.logger.WithFields(logger.Fields{
		"operation":    "check_bindings",
		"change_count": len(changes),
		"duration":     time.Since(startTime).String(),
	}).Debug("Completed binding check")

	return changes, nil
}
