package logger

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const redacted = "[REDACTED]"

// githubTokenPattern matches classic and fine-grained GitHub credentials
var githubTokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})\b`)

var sensitiveKeys = []string{"token", "secret", "password", "authorization"}

// RedactionHook masks GitHub credentials in messages and string or error fields.
// Fields whose key names a credential are replaced outright.
type RedactionHook struct {
	pattern *regexp.Regexp
}

// NewRedactionHook returns a hook matching GitHub token formats
func NewRedactionHook() *RedactionHook {
	return &RedactionHook{pattern: githubTokenPattern}
}

func (h *RedactionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = h.Redact(entry.Message)

	for key, value := range entry.Data {
		if isSensitiveKey(key) {
			if s, ok := value.(string); ok && s == "" {
				continue
			}
			entry.Data[key] = redacted
			continue
		}
		switch v := value.(type) {
		case string:
			entry.Data[key] = h.Redact(v)
		case error:
			entry.Data[key] = h.Redact(v.Error())
		}
	}
	return nil
}

// Redact replaces every credential found in s
func (h *RedactionHook) Redact(s string) string {
	if !strings.Contains(s, "gh") && !strings.Contains(s, "github_pat_") {
		return s
	}
	return h.pattern.ReplaceAllString(s, redacted)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// SlowOperationHook tags records whose duration exceeds Threshold
type SlowOperationHook struct {
	Threshold time.Duration
}

func (h *SlowOperationHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}

func (h *SlowOperationHook) Fire(entry *logrus.Entry) error {
	d, ok := entry.Data["duration"].(time.Duration)
	if ok && d > h.Threshold {
		entry.Data["slow_operation"] = true
		entry.Data["slow_threshold"] = h.Threshold.String()
	}
	return nil
}
