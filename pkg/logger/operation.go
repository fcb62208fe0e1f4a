package logger

import (
	"context"
	"time"
)

// BusinessOperation logs the start and outcome of one timed unit of work,
// such as a sync run, with its identifiers attached to every record
type BusinessOperation struct {
	Component  string
	Module     string
	Operation  string
	ProjectID  string
	Repository string
	RunID      string
	StartTime  time.Time

	logger *Entry
	ctx    context.Context
}

// StartOperation logs "Operation started" and returns the operation.
// Identifiers already on ctx are kept.
func (m *Manager) StartOperation(ctx context.Context, component, module, operation string) *BusinessOperation {
	now := time.Now()
	logCtx := FromContext(ctx).Merge(LogContext{
		Component: component,
		Module:    module,
		Operation: operation,
		StartTime: now,
	})

	op := &BusinessOperation{
		Component: component,
		Module:    module,
		Operation: operation,
		StartTime: now,
		logger:    m.WithContext(logCtx),
		ctx:       WithContext(ctx, logCtx),
	}
	op.logger.Info("Operation started")
	return op
}

// WithBinding attaches the project and repository of a binding
func (bo *BusinessOperation) WithBinding(projectID, repository string) *BusinessOperation {
	bo.ProjectID = projectID
	bo.Repository = repository
	bo.annotate(LogContext{ProjectID: projectID, Repository: repository})
	return bo
}

// WithRun attaches a sync run id
func (bo *BusinessOperation) WithRun(runID string) *BusinessOperation {
	bo.RunID = runID
	bo.annotate(LogContext{RunID: runID})
	return bo
}

func (bo *BusinessOperation) annotate(logCtx LogContext) {
	bo.logger = bo.logger.WithFields(logCtx.ToFields())
	bo.ctx = WithContext(bo.ctx, logCtx)
}

func (bo *BusinessOperation) Info(message string, fields ...Fields) {
	bo.logger.WithFields(mergeFields(nil, fields)).Info(message)
}

func (bo *BusinessOperation) Error(message string, err error, fields ...Fields) {
	bo.logger.WithFields(mergeFields(Fields{"error": errString(err)}, fields)).Error(message)
}

// Success logs completion with the elapsed duration
func (bo *BusinessOperation) Success(message string, fields ...Fields) {
	bo.logger.WithFields(mergeFields(bo.outcome(true, nil), fields)).Info(message)
}

// Fail logs failure with the elapsed duration and err
func (bo *BusinessOperation) Fail(message string, err error, fields ...Fields) {
	bo.logger.WithFields(mergeFields(bo.outcome(false, err), fields)).Error(message)
}

func (bo *BusinessOperation) outcome(success bool, err error) Fields {
	elapsed := time.Since(bo.StartTime)
	f := Fields{
		"duration":    elapsed,
		"duration_ms": elapsed.Milliseconds(),
		"success":     success,
	}
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// GetContext returns ctx carrying the operation's identifiers
func (bo *BusinessOperation) GetContext() context.Context {
	return bo.ctx
}

func (bo *BusinessOperation) GetLogger() *Entry {
	return bo.logger
}

func mergeFields(base Fields, extra []Fields) Fields {
	if base == nil {
		base = Fields{}
	}
	for _, f := range extra {
		for k, v := range f {
			base[k] = v
		}
	}
	return base
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
