// Package audit provides the audit event model and a publisher that fans
// events out to one or more sinks, synchronously by default or through a
// bounded async buffer.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives audit events. Implementations: the in-memory store (tests,
// local inspection) and the Kafka producer (durable pipeline).
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Publisher fans audit events out to its sinks. A sink failure is logged,
// never propagated: audit must not fail the operation it describes.
type Publisher struct {
	sinks  []Sink
	logger *slog.Logger
	clock  func() time.Time

	buffer  chan Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery through a
// buffer of the given size. When the buffer is full events are dropped (and
// counted in logs) rather than blocking the caller.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan Event, size)
		}
	}
}

// WithPublisherLogger attaches a logger for sink failure visibility.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisherClock sets the timestamp source for testability.
func WithPublisherClock(clock func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPublisher creates a publisher over the given sinks.
func NewPublisher(sinks []Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sinks:  sinks,
		logger: slog.Default(),
		clock:  time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		go p.drain()
	}
	return p
}

// Emit publishes an event, stamping the timestamp if unset. In async mode a
// full buffer drops the event.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock().UTC()
	}

	if p.buffer == nil {
		p.write(ctx, event)
		return nil
	}

	select {
	case p.buffer <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", event.Action,
			"device_id", event.DeviceID,
		)
	}
	return nil
}

// Close drains any buffered events and stops the async worker. Safe to call
// more than once.
func (p *Publisher) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
		<-p.done
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.buffer {
		p.write(context.Background(), event)
	}
}

func (p *Publisher) write(ctx context.Context, event Event) {
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "audit sink write failed",
				"action", event.Action,
				"device_id", event.DeviceID,
				"error", err.Error(),
			)
		}
	}
}
