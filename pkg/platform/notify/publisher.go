package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives events for delivery. Implementations must be safe for
// concurrent use.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Publisher hands events to a sink, either synchronously or through a bounded
// buffer. When the buffer is full the event is dropped and counted; core
// operations never block on notification delivery.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	buf chan Event
	wg  sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery through a buffer of the given
// size. Zero or negative sizes keep the publisher synchronous.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buf = make(chan Event, size)
		}
	}
}

// WithLogger attaches a logger for delivery failures and drops.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher builds a publisher around a sink.
func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	if p.buf != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. In async mode the call never blocks; a full buffer
// drops the event. In sync mode the sink error is returned for observability
// but callers are expected to ignore it for transactional purposes.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.buf == nil {
		if err := p.sink.Deliver(ctx, event); err != nil {
			p.logFailure(ctx, event, err)
			return err
		}
		return nil
	}

	// The send happens under the mutex so Close cannot slip between the
	// closed check and the send and close the channel under us.
	p.mu.Lock()
	if p.closed {
		p.dropped++
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.WarnContext(ctx, "notification dropped, publisher closed",
				"kind", event.Kind, "customer_id", event.CustomerID)
		}
		return nil
	}
	select {
	case p.buf <- event:
		p.mu.Unlock()
	default:
		p.dropped++
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.WarnContext(ctx, "notification dropped, buffer full",
				"kind", event.Kind, "customer_id", event.CustomerID)
		}
	}
	return nil
}

// Dropped reports how many events were discarded due to a full buffer.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops the async worker after draining buffered events. Emits racing
// with Close are counted as drops, never delivered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	if p.buf != nil {
		close(p.buf)
		p.wg.Wait()
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buf {
		if err := p.sink.Deliver(context.Background(), event); err != nil {
			p.logFailure(context.Background(), event, err)
		}
	}
}

func (p *Publisher) logFailure(ctx context.Context, event Event, err error) {
	if p.logger == nil {
		return
	}
	p.logger.ErrorContext(ctx, "notification delivery failed",
		"kind", event.Kind, "customer_id", event.CustomerID, "error", err)
}
