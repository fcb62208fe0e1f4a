package poller

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// SchedulerImpl implements the Scheduler interface
type SchedulerImpl struct {
	bindings map[string]*ScheduledBinding
	logger   *logger.Entry
	now      func() time.Time
	mu       sync.RWMutex
}

// ScheduledBinding represents a binding with scheduling information
type ScheduledBinding struct {
	ProjectID   string    `json:"project_id"`
	Repository  string    `json:"repository"`
	Interval    int       `json:"interval"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	RunCount    int64     `json:"run_count"`
}

func (sb *ScheduledBinding) period() time.Duration {
	return time.Duration(sb.Interval) * time.Second
}

// NewScheduler creates a new scheduler
func NewScheduler(parentLogger *logger.Entry) *SchedulerImpl {
	return &SchedulerImpl{
		bindings: make(map[string]*ScheduledBinding),
		logger: parentLogger.WithFields(logger.Fields{
			"component": "poller",
			"module":    "scheduler",
		}),
		now: time.Now,
	}
}

// SetClock replaces the scheduler's time source
func (s *SchedulerImpl) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Schedule adds a binding or refreshes its interval. A changed interval
// moves the next run relative to the last one.
func (s *SchedulerImpl) Schedule(binding *types.RepositoryBinding) error {
	if binding == nil || binding.ProjectID == "" {
		return fmt.Errorf("binding with a project id is required")
	}
	interval := binding.SyncInterval
	if interval <= 0 {
		interval = types.DefaultSyncInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !binding.IsActive || !binding.AutoSync {
		s.logger.WithFields(logger.Fields{
			"operation":  "schedule",
			"project_id": binding.ProjectID,
		}).Debug("Binding does not want autoSync, not scheduling")
		delete(s.bindings, binding.ProjectID)
		return nil
	}

	now := s.now()
	existing, ok := s.bindings[binding.ProjectID]
	if ok {
		existing.Repository = binding.FullName
		if existing.Interval == interval {
			return nil
		}
		existing.Interval = interval
		base := existing.LastRunTime
		if base.IsZero() {
			base = now
		}
		existing.NextRunTime = base.Add(existing.period())
		s.logger.WithFields(logger.Fields{
			"operation":     "schedule",
			"project_id":    binding.ProjectID,
			"interval":      interval,
			"next_run_time": existing.NextRunTime.Format(time.RFC3339),
		}).Info("Rescheduled binding")
		return nil
	}

	scheduled := &ScheduledBinding{
		ProjectID:  binding.ProjectID,
		Repository: binding.FullName,
		Interval:   interval,
	}
	scheduled.NextRunTime = now.Add(scheduled.period())
	s.bindings[binding.ProjectID] = scheduled

	s.logger.WithFields(logger.Fields{
		"operation":     "schedule",
		"project_id":    binding.ProjectID,
		"repository":    binding.FullName,
		"interval":      interval,
		"next_run_time": scheduled.NextRunTime.Format(time.RFC3339),
	}).Info("Scheduled binding for autoSync")

	return nil
}

// Unschedule removes a binding from the schedule
func (s *SchedulerImpl) Unschedule(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[projectID]; !exists {
		s.logger.WithFields(logger.Fields{
			"operation":  "unschedule",
			"project_id": projectID,
		}).Debug("Binding not found in schedule")
		return nil
	}

	delete(s.bindings, projectID)

	s.logger.WithFields(logger.Fields{
		"operation":  "unschedule",
		"project_id": projectID,
	}).Info("Unscheduled binding")

	return nil
}

// GetNextPollTime returns the next scheduled run for a project
func (s *SchedulerImpl) GetNextPollTime(projectID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scheduled, exists := s.bindings[projectID]
	if !exists {
		return time.Time{}, false
	}
	return scheduled.NextRunTime, true
}

// Due returns the bindings ready to run. Each one is pushed a full interval
// past now, so a slow tick never queues the same binding twice.
func (s *SchedulerImpl) Due(now time.Time) []ScheduledBinding {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []ScheduledBinding
	for _, scheduled := range s.bindings {
		if now.Before(scheduled.NextRunTime) {
			continue
		}
		scheduled.LastRunTime = now
		scheduled.NextRunTime = now.Add(scheduled.period())
		scheduled.RunCount++
		ready = append(ready, *scheduled)
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ProjectID < ready[j].ProjectID })

	if len(ready) > 0 {
		s.logger.WithFields(logger.Fields{
			"operation":   "due",
			"ready_count": len(ready),
		}).Debug("Bindings ready for autoSync")
	}
	return ready
}

// GetScheduledBindings returns all currently scheduled bindings
func (s *SchedulerImpl) GetScheduledBindings() []ScheduledBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bindings := make([]ScheduledBinding, 0, len(s.bindings))
	for _, scheduled := range s.bindings {
		bindings = append(bindings, *scheduled)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].ProjectID < bindings[j].ProjectID })
	return bindings
}

// GetSchedulerStatus returns the current status of the scheduler
func (s *SchedulerImpl) GetSchedulerStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliestNext time.Time
	for _, scheduled := range s.bindings {
		if earliestNext.IsZero() || scheduled.NextRunTime.Before(earliestNext) {
			earliestNext = scheduled.NextRunTime
		}
	}

	return SchedulerStatus{
		TotalBindings:    len(s.bindings),
		NextScheduledRun: earliestNext,
	}
}

// SchedulerStatus represents the current status of the scheduler
type SchedulerStatus struct {
	TotalBindings    int       `json:"total_bindings"`
	NextScheduledRun time.Time `json:"next_scheduled_run,omitempty"`
}
