package logger

import (
	"context"
	"time"
)

type loggerContextKey string

const (
	ComponentKey  loggerContextKey = "component"
	ModuleKey     loggerContextKey = "module"
	OperationKey  loggerContextKey = "operation"
	ProjectKey    loggerContextKey = "project_id"
	RepositoryKey loggerContextKey = "repository"
	IssueKey      loggerContextKey = "issue_id"
	RunIDKey      loggerContextKey = "run_id"
	RequestIDKey  loggerContextKey = "request_id"
)

// LogContext is the set of identifiers carried through a sync run or request
type LogContext struct {
	Component  string                 `json:"component,omitempty"`
	Module     string                 `json:"module,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	ProjectID  string                 `json:"project_id,omitempty"`
	Repository string                 `json:"repository,omitempty"`
	IssueID    string                 `json:"issue_id,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	StartTime  time.Time              `json:"start_time,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
	Custom     map[string]interface{} `json:"custom,omitempty"`
}

// stringFields pairs each context key with its LogContext field
func (lc *LogContext) stringFields() []struct {
	key   loggerContextKey
	value *string
} {
	return []struct {
		key   loggerContextKey
		value *string
	}{
		{ComponentKey, &lc.Component},
		{ModuleKey, &lc.Module},
		{OperationKey, &lc.Operation},
		{ProjectKey, &lc.ProjectID},
		{RepositoryKey, &lc.Repository},
		{IssueKey, &lc.IssueID},
		{RunIDKey, &lc.RunID},
		{RequestIDKey, &lc.RequestID},
	}
}

// ToFields flattens the non-empty identifiers into log fields
func (lc LogContext) ToFields() Fields {
	fields := Fields{}
	for _, f := range lc.stringFields() {
		if *f.value != "" {
			fields[string(f.key)] = *f.value
		}
	}
	if !lc.StartTime.IsZero() {
		fields["start_time"] = lc.StartTime
	}
	if lc.Duration > 0 {
		fields["duration"] = lc.Duration
		fields["duration_ms"] = lc.Duration.Milliseconds()
	}
	for k, v := range lc.Custom {
		fields[k] = v
	}
	return fields
}

// WithContext stores the identifiers of logCtx on ctx
func WithContext(ctx context.Context, logCtx LogContext) context.Context {
	for _, f := range logCtx.stringFields() {
		if *f.value != "" {
			ctx = context.WithValue(ctx, f.key, *f.value)
		}
	}
	return ctx
}

// FromContext reads back the identifiers stored by WithContext
func FromContext(ctx context.Context) LogContext {
	var logCtx LogContext
	for _, f := range logCtx.stringFields() {
		if s, ok := ctx.Value(f.key).(string); ok {
			*f.value = s
		}
	}
	return logCtx
}

// Merge overlays the non-empty values of other onto lc
func (lc LogContext) Merge(other LogContext) LogContext {
	result := lc
	dst := result.stringFields()
	for i, f := range other.stringFields() {
		if *f.value != "" {
			*dst[i].value = *f.value
		}
	}
	if !other.StartTime.IsZero() {
		result.StartTime = other.StartTime
	}
	if other.Duration > 0 {
		result.Duration = other.Duration
	}

	custom := make(map[string]interface{}, len(lc.Custom)+len(other.Custom))
	for k, v := range lc.Custom {
		custom[k] = v
	}
	for k, v := range other.Custom {
		custom[k] = v
	}
	if len(custom) > 0 {
		result.Custom = custom
	}
	return result
}
