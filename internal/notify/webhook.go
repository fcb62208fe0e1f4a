package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// maxResponseBody caps how much of an error response is kept
const maxResponseBody = 4096

// WebhookNotifier posts events in CloudEvents binary mode
type WebhookNotifier struct {
	config     types.NotifyConfig
	httpClient *http.Client
	userAgent  string
	logger     *logger.Entry
	metrics    Metrics
	mu         sync.RWMutex
	startTime  time.Time
}

// NewWebhookNotifier validates config and builds the notifier
func NewWebhookNotifier(config types.NotifyConfig, userAgent string, parentLogger *logger.Entry) (*WebhookNotifier, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid notify configuration: %w", err)
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
	}
	if config.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	if userAgent == "" {
		userAgent = "IssueSync/1.0"
	}

	n := &WebhookNotifier{
		config:     config,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger: parentLogger.WithFields(logger.Fields{
			"component": "notify",
			"module":    "webhook",
		}),
		startTime: time.Now(),
	}

	n.logger.WithFields(logger.Fields{
		"operation":    "initialize",
		"timeout":      config.Timeout,
		"max_attempts": config.Retry.MaxAttempts,
	}).Info("Initialized webhook notifier")

	return n, nil
}

// Notify posts event, retrying connection failures, 5xx, 408 and 429
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	start := time.Now()
	body, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		statusCode, err := n.post(ctx, event, body)
		if err == nil {
			return nil
		}

		var deliveryErr *Error
		if errors.As(err, &deliveryErr) && deliveryErr.Retryable() && ctx.Err() == nil {
			n.logger.WithFields(logger.Fields{
				"operation":   "notify",
				"event_id":    event.ID,
				"attempt":     attempt,
				"status_code": statusCode,
			}).WithError(err).Warn("Webhook delivery failed, will retry")
			return err
		}
		return backoff.Permanent(err)
	}

	err = backoff.Retry(op, backoff.WithContext(n.newBackOff(), ctx))
	duration := time.Since(start)
	n.updateMetrics(err == nil, duration)

	fields := logger.Fields{
		"operation":  "notify",
		"event_id":   event.ID,
		"event_type": event.Type,
		"project_id": event.Subject,
		"attempts":   attempt,
		"duration":   duration,
	}
	if err != nil {
		n.logger.WithFields(fields).WithError(err).Error("Failed to deliver sync event")
		return err
	}
	n.logger.WithFields(fields).Debug("Delivered sync event")
	return nil
}

func (n *WebhookNotifier) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.config.Retry.InitialDelay
	eb.MaxInterval = n.config.Retry.MaxDelay
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := n.config.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(eb, uint64(attempts-1))
}

// post sends one attempt and returns the status code
func (n *WebhookNotifier) post(ctx context.Context, event Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	n.addHeaders(req)
	req.Header.Set("Content-Type", event.DataContentType)
	req.Header.Set("ce-specversion", event.SpecVersion)
	req.Header.Set("ce-type", event.Type)
	req.Header.Set("ce-source", event.Source)
	req.Header.Set("ce-id", event.ID)
	req.Header.Set("ce-time", event.Time.Format(time.RFC3339))
	if event.Subject != "" {
		req.Header.Set("ce-subject", event.Subject)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, &Error{
			Type:    ErrorTypeConnection,
			Message: fmt.Sprintf("HTTP request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		errorType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errorType = ErrorTypeServer
		}
		return resp.StatusCode, &Error{
			Type:    errorType,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)),
			Code:    resp.StatusCode,
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (n *WebhookNotifier) addHeaders(req *http.Request) {
	for key, value := range n.config.Headers {
		req.Header.Set(key, value)
	}
	if n.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.AuthToken)
	}
	req.Header.Set("User-Agent", n.userAgent)
}

// HealthCheck issues a GET against the webhook URL. Anything below 500
// counts as reachable since most receivers only accept POST.
func (n *WebhookNotifier) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	n.addHeaders(req)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &Error{
			Type:    ErrorTypeConnection,
			Message: fmt.Sprintf("failed to connect to webhook: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{
			Type:    ErrorTypeServer,
			Message: fmt.Sprintf("webhook server error: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
	return nil
}

// GetMetrics returns delivery metrics
func (n *WebhookNotifier) GetMetrics() Metrics {
	n.mu.RLock()
	defer n.mu.RUnlock()

	metrics := n.metrics
	metrics.Uptime = time.Since(n.startTime)
	return metrics
}

// Close drops idle connections
func (n *WebhookNotifier) Close() error {
	n.httpClient.CloseIdleConnections()
	return nil
}

func (n *WebhookNotifier) updateMetrics(success bool, duration time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.metrics.TotalRequests++
	if success {
		n.metrics.SuccessfulSends++
		n.metrics.LastSuccessTime = time.Now()
		n.metrics.ConsecutiveFails = 0
	} else {
		n.metrics.FailedSends++
		n.metrics.LastFailureTime = time.Now()
		n.metrics.ConsecutiveFails++
	}

	// EMA with alpha = 0.1
	if n.metrics.AverageLatency == 0 {
		n.metrics.AverageLatency = duration
	} else {
		n.metrics.AverageLatency = time.Duration(float64(n.metrics.AverageLatency)*0.9 + float64(duration)*0.1)
	}
}

func validateConfig(config types.NotifyConfig) error {
	if config.URL == "" {
		return &Error{Type: ErrorTypeValidation, Message: "url is required"}
	}
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf("invalid url: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf("url must use http or https scheme (got: %s)", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return &Error{Type: ErrorTypeValidation, Message: "url must have a host"}
	}
	if config.Timeout <= 0 {
		return &Error{Type: ErrorTypeValidation, Message: "timeout must be positive"}
	}
	return nil
}
