package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BusinessLogger records the domain events of binding and syncing with a
// stable field vocabulary, so dashboards can key on operation and
// project_id regardless of which package emitted the line.
type BusinessLogger interface {
	LogBindingValidated(ctx context.Context, projectID, repository string, push, pull bool)
	LogBindingValidationError(ctx context.Context, projectID, repository string, err error)
	LogBindingConfigured(ctx context.Context, projectID, repository string, autoSync bool, interval int)
	LogBindingDeleted(ctx context.Context, projectID string)

	LogSyncStart(ctx context.Context, projectID, repository, direction string, dryRun bool)
	LogSyncSuccess(ctx context.Context, projectID string, created, updated, skipped int, duration time.Duration)
	LogSyncError(ctx context.Context, projectID string, errorCount int, err error, duration time.Duration)
	LogIssueOutcome(ctx context.Context, projectID, issueID string, githubNumber int, classification, state, action string)
	LogRateLimitGate(ctx context.Context, projectID string, remaining, margin int, reset time.Time)
}

type businessLogger struct {
	manager *Manager
}

func NewBusinessLogger(manager *Manager) BusinessLogger {
	return &businessLogger{manager: manager}
}

// event names where a line came from. component/module pairs are
// binding/validator and syncer/engine.
type event struct {
	component, module, operation string
	projectID                    string
}

func bindingEvent(operation, projectID string) event {
	return event{component: "binding", module: "validator", operation: operation, projectID: projectID}
}

func syncEvent(operation, projectID string) event {
	return event{component: "syncer", module: "engine", operation: operation, projectID: projectID}
}

func (bl *businessLogger) emit(ctx context.Context, level logrus.Level, ev event, fields Fields, message string) {
	all := Fields{
		"component":  ev.component,
		"module":     ev.module,
		"operation":  ev.operation,
		"project_id": ev.projectID,
	}
	for k, v := range fields {
		all[k] = v
	}
	bl.manager.WithGoContext(ctx).WithFields(all).Log(level, message)
}

func withDuration(fields Fields, d time.Duration) Fields {
	fields["duration"] = d
	fields["duration_ms"] = d.Milliseconds()
	return fields
}

func (bl *businessLogger) LogBindingValidated(ctx context.Context, projectID, repository string, push, pull bool) {
	bl.emit(ctx, logrus.InfoLevel, bindingEvent("validate", projectID), Fields{
		"repository": repository,
		"push":       push,
		"pull":       pull,
		"success":    true,
	}, "Repository validated")
}

func (bl *businessLogger) LogBindingValidationError(ctx context.Context, projectID, repository string, err error) {
	bl.emit(ctx, logrus.WarnLevel, bindingEvent("validate", projectID), Fields{
		"repository": repository,
		"success":    false,
		"error":      errString(err),
	}, "Repository validation failed")
}

func (bl *businessLogger) LogBindingConfigured(ctx context.Context, projectID, repository string, autoSync bool, interval int) {
	bl.emit(ctx, logrus.InfoLevel, bindingEvent("configure", projectID), Fields{
		"repository":    repository,
		"auto_sync":     autoSync,
		"sync_interval": interval,
	}, "Repository binding configured")
}

func (bl *businessLogger) LogBindingDeleted(ctx context.Context, projectID string) {
	bl.emit(ctx, logrus.InfoLevel, bindingEvent("delete", projectID), nil, "Repository binding deleted")
}

// LogSyncStart opens a BusinessOperation so the run's start line carries
// the same context fields as its completion.
func (bl *businessLogger) LogSyncStart(ctx context.Context, projectID, repository, direction string, dryRun bool) {
	op := bl.manager.StartOperation(ctx, "syncer", "engine", "sync_start")
	op.WithBinding(projectID, repository).Info("Starting sync run", Fields{
		"direction": direction,
		"dry_run":   dryRun,
	})
}

func (bl *businessLogger) LogSyncSuccess(ctx context.Context, projectID string, created, updated, skipped int, duration time.Duration) {
	bl.emit(ctx, logrus.InfoLevel, syncEvent("sync_complete", projectID), withDuration(Fields{
		"created": created,
		"updated": updated,
		"skipped": skipped,
		"success": true,
	}, duration), "Sync run completed successfully")
}

func (bl *businessLogger) LogSyncError(ctx context.Context, projectID string, errorCount int, err error, duration time.Duration) {
	fields := withDuration(Fields{"error_count": errorCount, "success": false}, duration)
	if err != nil {
		fields["error"] = err.Error()
	}
	bl.emit(ctx, logrus.ErrorLevel, syncEvent("sync_complete", projectID), fields, "Sync run finished with errors")
}

func (bl *businessLogger) LogIssueOutcome(ctx context.Context, projectID, issueID string, githubNumber int, classification, state, action string) {
	bl.emit(ctx, logrus.DebugLevel, syncEvent("reconcile_issue", projectID), Fields{
		"issue_id":       issueID,
		"github_number":  githubNumber,
		"classification": classification,
		"state":          state,
		"action":         action,
	}, "Issue reconciled")
}

func (bl *businessLogger) LogRateLimitGate(ctx context.Context, projectID string, remaining, margin int, reset time.Time) {
	bl.emit(ctx, logrus.WarnLevel, syncEvent("rate_limit_gate", projectID), Fields{
		"remaining": remaining,
		"margin":    margin,
		"reset_at":  reset,
	}, "Rate limit below safety margin, skipping remaining issues")
}
