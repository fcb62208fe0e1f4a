package logger

import "github.com/sirupsen/logrus"

// Fields is passed to WithFields
type Fields map[string]interface{}

// Entry wraps logrus.Entry so chained helpers keep returning *Entry
type Entry struct {
	*logrus.Entry
}

func toLogrus(fields Fields) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{l.Logger.WithFields(toLogrus(fields))}
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{l.Logger.WithField(key, value)}
}

func (l *Logger) WithComponent(component string) *Entry {
	return l.WithField("component", component)
}

// WithError records err as a string so formatters never see a nil interface
func (l *Logger) WithError(err error) *Entry {
	if err == nil {
		return &Entry{logrus.NewEntry(l.Logger)}
	}
	return l.WithField("error", err.Error())
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{e.Entry.WithFields(toLogrus(fields))}
}

func (e *Entry) WithComponent(component string) *Entry {
	return e.WithField("component", component)
}

func (e *Entry) WithOperation(operation string) *Entry {
	return e.WithField("operation", operation)
}

// WithProject tags the record with a binding's project id
func (e *Entry) WithProject(projectID string) *Entry {
	return e.WithField("project_id", projectID)
}

// WithIssue tags the record with a local issue id
func (e *Entry) WithIssue(issueID string) *Entry {
	return e.WithField("issue_id", issueID)
}

// WithRun tags the record with a sync run id
func (e *Entry) WithRun(runID string) *Entry {
	return e.WithField("run_id", runID)
}

func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	return e.WithField("error", err.Error())
}
