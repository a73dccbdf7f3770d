package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sink delivers one event to a transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Metrics receives dispatcher counters. A nil Metrics is allowed.
type Metrics interface {
	EventPublished(sink string)
	EventPublishFailed(sink string)
	EventDropped()
	PublishObserve(d time.Duration)
}

const (
	DefaultBuffer         = 256
	defaultPublishTimeout = 5 * time.Second
)

// Dispatcher queues events in memory and fans them out to every sink on a
// single worker. Emit never blocks; a full queue drops the event.
type Dispatcher struct {
	sinks   []Sink
	log     *slog.Logger
	metrics Metrics
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan Event
	closed bool

	wg        sync.WaitGroup
	startOnce sync.Once
}

func NewDispatcher(buffer int, logger *slog.Logger, m Metrics, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		log:     logger.With("component", "events"),
		metrics: m,
		timeout: defaultPublishTimeout,
		queue:   make(chan Event, buffer),
	}
}

// Run starts the delivery worker. Calling it more than once is a no-op.
func (d *Dispatcher) Run() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.deliver(ev)
			}
		}()
	})
}

// Emit enqueues ev without waiting for delivery.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "dispatcher stopped")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

// Stop closes the queue and waits for the worker to drain it, or for ctx
// to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("events: stop timed out with undelivered events")
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		start := time.Now()
		err := s.Publish(ctx, ev)
		cancel()
		if d.metrics != nil {
			d.metrics.PublishObserve(time.Since(start))
		}
		if err != nil {
			d.log.Warn("publish failed", "sink", s.Name(), "kind", ev.Kind, "session", ev.SessionID, "error", err)
			if d.metrics != nil {
				d.metrics.EventPublishFailed(s.Name())
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.EventPublished(s.Name())
		}
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.log.Warn("event dropped", "reason", reason, "kind", ev.Kind, "session", ev.SessionID)
	if d.metrics != nil {
		d.metrics.EventDropped()
	}
}
