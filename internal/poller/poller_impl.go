package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// PollerImpl implements the Poller interface
type PollerImpl struct {
	config    PollerConfig
	runner    SyncRunner
	monitor   BindingMonitor
	scheduler Scheduler
	logger    *logger.Entry
	now       func() time.Time

	// Runtime state
	mu           sync.RWMutex
	running      bool
	startTime    time.Time
	lastTickTime time.Time
	stopChan     chan struct{}
	workQueue    chan string
	workers      []*worker
	wg           sync.WaitGroup
	metrics      PollerMetrics
	status       map[string]*BindingStatus
}

// worker represents a polling worker
type worker struct {
	id     int
	poller *PollerImpl
	logger *logger.Entry
}

// NewPoller creates a new poller instance
func NewPoller(config PollerConfig, runner SyncRunner, parentLogger *logger.Entry) *PollerImpl {
	defaults := GetDefaultPollerConfig()
	if config.Tick <= 0 {
		config.Tick = defaults.Tick
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	scheduler := NewScheduler(parentLogger)
	return &PollerImpl{
		config:    config,
		runner:    runner,
		monitor:   NewBindingMonitor(runner, scheduler, parentLogger),
		scheduler: scheduler,
		logger: parentLogger.WithFields(logger.Fields{
			"component": "poller",
			"module":    "poller_impl",
		}),
		now:       time.Now,
		stopChan:  make(chan struct{}),
		workQueue: make(chan string, config.QueueSize),
		metrics: PollerMetrics{
			LastResetTime: time.Now(),
		},
		status: make(map[string]*BindingStatus),
	}
}

// SetClock replaces the poller's and its scheduler's time source
func (p *PollerImpl) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
	if s, ok := p.scheduler.(*SchedulerImpl); ok {
		s.SetClock(now)
	}
}

// Start begins the polling process
func (p *PollerImpl) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller is already running")
	}

	p.logger.WithFields(logger.Fields{
		"operation":   "start",
		"max_workers": p.config.MaxWorkers,
		"queue_size":  p.config.QueueSize,
		"tick":        p.config.Tick.String(),
	}).Info("Starting poller")

	p.running = true
	p.startTime = p.now()

	if _, err := p.monitor.CheckBindings(ctx); err != nil {
		p.logger.WithError(err).Warn("Initial binding check failed, will retry on next tick")
	}

	p.workers = make([]*worker, p.config.MaxWorkers)
	for i := 0; i < p.config.MaxWorkers; i++ {
		p.workers[i] = &worker{
			id:     i + 1,
			poller: p,
			logger: p.logger.WithField("worker_id", i+1),
		}
		p.wg.Add(1)
		go p.workers[i].run(ctx)
	}

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("Poller started successfully")
	return nil
}

// Stop gracefully stops the polling process and waits for in-flight runs
// until ctx expires
func (p *PollerImpl) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.logger.WithFields(logger.Fields{
		"operation": "stop",
	}).Info("Stopping poller")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller stop timed out: %w", ctx.Err())
	}
}

// Refresh reconciles the schedule with the stored bindings
func (p *PollerImpl) Refresh(ctx context.Context) ([]ScheduleChange, error) {
	changes, err := p.monitor.CheckBindings(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, change := range changes {
		if change.IsDeleted() {
			delete(p.status, change.ProjectID)
		}
	}
	p.mu.Unlock()
	return changes, nil
}

// SyncBinding runs one scheduled pass for projectID
func (p *PollerImpl) SyncBinding(ctx context.Context, projectID string) (*TickResult, error) {
	startTime := p.now()

	p.logger.WithFields(logger.Fields{
		"operation":  "sync_binding",
		"project_id": projectID,
	}).Debug("Starting scheduled sync")

	result := &TickResult{
		ProjectID: projectID,
		Timestamp: startTime,
	}

	syncResult, err := p.runner.RunScheduled(ctx, projectID)
	result.Duration = p.now().Sub(startTime)
	if err != nil {
		result.Error = err
		p.logger.WithError(err).WithFields(logger.Fields{
			"operation":  "sync_binding",
			"project_id": projectID,
			"duration":   result.Duration.String(),
		}).Error("Scheduled sync failed")
		p.updateMetrics(result)
		return result, err
	}

	if syncResult == nil {
		result.Skipped = true
	} else {
		result.Result = syncResult
		result.Success = syncResult.Success
		p.logger.WithFields(logger.Fields{
			"operation":  "sync_binding",
			"project_id": projectID,
			"success":    syncResult.Success,
			"created":    syncResult.Created,
			"updated":    syncResult.Updated,
			"skipped":    syncResult.Skipped,
			"errors":     len(syncResult.Errors),
			"duration":   result.Duration.String(),
		}).Info("Completed scheduled sync")
	}

	p.updateMetrics(result)
	return result, nil
}

// GetStatus returns the current status of the poller
func (p *PollerImpl) GetStatus() PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	scheduled := p.scheduler.GetScheduledBindings()
	bindings := make([]BindingStatus, 0, len(scheduled))
	for _, sb := range scheduled {
		status := BindingStatus{
			ProjectID:   sb.ProjectID,
			Repository:  sb.Repository,
			Interval:    sb.Interval,
			LastRunTime: sb.LastRunTime,
			NextRunTime: sb.NextRunTime,
			RunCount:    sb.RunCount,
		}
		if tracked, ok := p.status[sb.ProjectID]; ok {
			status.LastSuccess = tracked.LastSuccess
			status.LastError = tracked.LastError
			status.SkippedCount = tracked.SkippedCount
		}
		bindings = append(bindings, status)
	}

	return PollerStatus{
		Running:        p.running,
		StartTime:      p.startTime,
		LastTickTime:   p.lastTickTime,
		ActiveBindings: len(scheduled),
		WorkerCount:    len(p.workers),
		QueueSize:      len(p.workQueue),
		Bindings:       bindings,
	}
}

// GetMetrics returns polling metrics
func (p *PollerImpl) GetMetrics() PollerMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metrics := p.metrics
	if p.running {
		metrics.Uptime = p.now().Sub(p.startTime)
	}
	return metrics
}

// run is the main polling loop
func (p *PollerImpl) run(ctx context.Context) {
	defer p.wg.Done()
	p.logger.Info("Poller main loop started")

	ticker := time.NewTicker(p.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped due to context cancellation")
			return
		case <-p.stopChan:
			p.logger.Info("Poller main loop stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick refreshes the schedule and queues every due binding
func (p *PollerImpl) tick(ctx context.Context) {
	if _, err := p.Refresh(ctx); err != nil {
		p.logger.WithError(err).Warn("Binding refresh failed, using previous schedule")
	}

	now := p.now()
	p.mu.Lock()
	p.lastTickTime = now
	p.mu.Unlock()

	ready := p.scheduler.Due(now)
	if len(ready) == 0 {
		return
	}

	p.logger.WithFields(logger.Fields{
		"operation":   "tick",
		"ready_count": len(ready),
	}).Debug("Queueing due bindings")

	for _, sb := range ready {
		select {
		case p.workQueue <- sb.ProjectID:
		case <-ctx.Done():
			return
		default:
			p.mu.Lock()
			p.metrics.DroppedTicks++
			p.mu.Unlock()
			p.logger.WithFields(logger.Fields{
				"operation":  "tick",
				"project_id": sb.ProjectID,
			}).Warn("Work queue is full, skipping binding until next interval")
		}
	}
}

// updateMetrics folds one tick result into the metrics and per-binding
// status
func (p *PollerImpl) updateMetrics(result *TickResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.status[result.ProjectID]
	if !ok {
		status = &BindingStatus{ProjectID: result.ProjectID}
		p.status[result.ProjectID] = status
	}

	if result.Skipped {
		p.metrics.SkippedRuns++
		status.SkippedCount++
		return
	}

	p.metrics.TotalRuns++
	switch {
	case result.Error != nil:
		p.metrics.FailedRuns++
		status.LastSuccess = false
		status.LastError = result.Error.Error()
	case result.Success:
		p.metrics.SuccessfulRuns++
		status.LastSuccess = true
		status.LastError = ""
	default:
		p.metrics.FailedRuns++
		status.LastSuccess = false
		if result.Result != nil && len(result.Result.Errors) > 0 {
			status.LastError = result.Result.Errors[0].Message
		}
	}

	if result.Result != nil {
		p.metrics.IssuesCreated += int64(result.Result.Created)
		p.metrics.IssuesUpdated += int64(result.Result.Updated)
	}

	totalDuration := p.metrics.AverageRunDuration * time.Duration(p.metrics.TotalRuns-1)
	totalDuration += result.Duration
	p.metrics.AverageRunDuration = totalDuration / time.Duration(p.metrics.TotalRuns)
}

// worker.run is the worker loop
func (w *worker) run(ctx context.Context) {
	defer w.poller.wg.Done()
	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopped due to context cancellation")
			return
		case <-w.poller.stopChan:
			w.logger.Debug("Worker stopped")
			return
		case projectID := <-w.poller.workQueue:
			w.process(ctx, projectID)
		}
	}
}

// process runs a single queued binding
func (w *worker) process(ctx context.Context, projectID string) {
	w.logger.WithFields(logger.Fields{
		"operation":  "process_binding",
		"project_id": projectID,
		"worker_id":  w.id,
	}).Debug("Processing binding")

	if _, err := w.poller.SyncBinding(ctx, projectID); err != nil {
		w.logger.WithError(err).WithFields(logger.Fields{
			"operation":  "process_binding",
			"project_id": projectID,
			"worker_id":  w.id,
		}).Warn("Scheduled sync returned an error")
	}
}
