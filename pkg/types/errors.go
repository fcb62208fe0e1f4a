package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures so callers can react without string matching
type ErrorKind string

const (
	KindConfiguration        ErrorKind = "ConfigurationError"
	KindAuth                 ErrorKind = "AuthError"
	KindPermission           ErrorKind = "PermissionError"
	KindNotFound             ErrorKind = "NotFoundError"
	KindRateLimitExceeded    ErrorKind = "RateLimitExceeded"
	KindTransientNetwork     ErrorKind = "TransientNetworkError"
	KindConflictUnresolvable ErrorKind = "ConflictUnresolvable"
	KindMapping              ErrorKind = "MappingError"
	KindInternal             ErrorKind = "InternalError"
)

// ErrSyncInProgress is returned when a binding already has a run in flight
var ErrSyncInProgress = errors.New("a sync run is already in progress for this repository")

// ConfigurationError represents missing or invalid binding configuration
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Kind() ErrorKind { return KindConfiguration }

// AuthError represents a rejected credential (401/403)
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

func (e *AuthError) Kind() ErrorKind { return KindAuth }

// PermissionError represents a token lacking a required scope
type PermissionError struct {
	Permission string
	Message    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing %s permission: %s", e.Permission, e.Message)
}

func (e *PermissionError) Kind() ErrorKind { return KindPermission }

// NotFoundError represents a missing repository, issue or binding
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// RateLimitExceededError represents exhausted API quota
type RateLimitExceededError struct {
	ResetTime time.Time
	Remaining int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded (remaining %d), resets at %s", e.Remaining, e.ResetTime.Format(time.RFC3339))
}

func (e *RateLimitExceededError) Kind() ErrorKind { return KindRateLimitExceeded }

// TransientNetworkError represents a timeout or 5xx that may succeed on retry
type TransientNetworkError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error during %s (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

func (e *TransientNetworkError) Kind() ErrorKind { return KindTransientNetwork }

// ConflictUnresolvableError represents divergence the sync policy refuses to merge
type ConflictUnresolvableError struct {
	IssueID string
	Reason  string
}

func (e *ConflictUnresolvableError) Error() string {
	return fmt.Sprintf("unresolvable conflict on issue %s: %s", e.IssueID, e.Reason)
}

func (e *ConflictUnresolvableError) Kind() ErrorKind { return KindConflictUnresolvable }

// MappingError represents a malformed embedded metadata block
type MappingError struct {
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mapping error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mapping error: %s", e.Reason)
}

func (e *MappingError) Unwrap() error { return e.Err }

func (e *MappingError) Kind() ErrorKind { return KindMapping }

// ValidationError represents a remote 422 or similar permanent rejection
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request rejected (status %d): %s", e.StatusCode, e.Message)
}

func (e *ValidationError) Kind() ErrorKind { return KindConfiguration }

type kinded interface {
	Kind() ErrorKind
}

// KindOf classifies err, unwrapping as needed.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	return KindInternal
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	var transient *TransientNetworkError
	return errors.As(err, &transient)
}
