package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// Dispatcher queues events and delivers them from one goroutine so a slow
// receiver never holds up a sync run. Events that do not fit in the queue
// are dropped.
type Dispatcher struct {
	target  Notifier
	queue   chan Event
	logger  *logger.Entry
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery goroutine
func NewDispatcher(target Notifier, queueSize int, parentLogger *logger.Entry) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		target: target,
		queue:  make(chan Event, queueSize),
		logger: parentLogger.WithFields(logger.Fields{
			"component": "notify",
			"module":    "dispatcher",
		}),
		ctx:    ctx,
		cancel: cancel,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		// failures are logged and counted by the target
		_ = d.target.Notify(d.ctx, event)
	}
}

// Notify enqueues event without blocking
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return &Error{Type: ErrorTypeClosed, Message: "dispatcher is closed"}
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)
		d.logger.WithFields(logger.Fields{
			"operation":  "enqueue",
			"event_id":   event.ID,
			"project_id": event.Subject,
		}).Warn("Notification queue full, dropping event")
		return &Error{Type: ErrorTypeQueueFull, Message: "notification queue is full"}
	}
}

// HealthCheck delegates to the target
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	return d.target.HealthCheck(ctx)
}

// GetMetrics returns the target's metrics plus dropped events
func (d *Dispatcher) GetMetrics() Metrics {
	metrics := d.target.GetMetrics()
	metrics.Dropped = d.dropped.Load()
	return metrics
}

// Pending returns the number of queued events
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting events and waits for the queue to drain
func (d *Dispatcher) Close() error {
	return d.Shutdown(context.Background())
}

// Shutdown stops accepting events and drains the queue until ctx is done.
// In-flight retries are abandoned once ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.WithField("operation", "shutdown").Warn("Notification queue abandoned on shutdown")
	}
	d.cancel()
	return d.target.Close()
}
