// Package notify delivers sync run events to an outbound webhook so a UI
// or chat integration can react to finished runs.
package notify

import (
	"context"
	"time"
)

// Notifier delivers events to a destination
type Notifier interface {
	// Notify delivers one event
	Notify(ctx context.Context, event Event) error

	// HealthCheck checks if the destination is reachable
	HealthCheck(ctx context.Context) error

	// GetMetrics returns delivery metrics
	GetMetrics() Metrics

	// Close releases resources
	Close() error
}

// Metrics represents delivery statistics
type Metrics struct {
	TotalRequests    int64         `json:"total_requests"`
	SuccessfulSends  int64         `json:"successful_sends"`
	FailedSends      int64         `json:"failed_sends"`
	Dropped          int64         `json:"dropped"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastSuccessTime  time.Time     `json:"last_success_time,omitempty"`
	LastFailureTime  time.Time     `json:"last_failure_time,omitempty"`
	ConsecutiveFails int64         `json:"consecutive_fails"`
	Uptime           time.Duration `json:"uptime"`
}

// Error represents a delivery failure
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Delivery error types
const (
	ErrorTypeConnection = "connection_error"
	ErrorTypeValidation = "validation_error"
	ErrorTypeServer     = "server_error"
	ErrorTypeClient     = "client_error"
	ErrorTypeQueueFull  = "queue_full"
	ErrorTypeClosed     = "closed"
)

// Retryable reports whether the failure may succeed on redelivery
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrorTypeConnection, ErrorTypeServer:
		return true
	case ErrorTypeClient:
		return e.Code == 408 || e.Code == 429
	}
	return false
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(ctx context.Context, event Event) error { return nil }
func (Nop) HealthCheck(ctx context.Context) error         { return nil }
func (Nop) GetMetrics() Metrics                           { return Metrics{} }
func (Nop) Close() error                                  { return nil }
