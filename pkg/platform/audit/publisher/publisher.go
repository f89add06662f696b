// Package publisher fronts an audit.Store with optional asynchronous buffering
// so sign-in requests never wait on the audit sink.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "portal/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit when the async buffer cannot take more events.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan audit.Event
	done   chan struct{}
	now    func() time.Time
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with a queue of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan audit.Event, size)
		}
	}
}

// WithLogger sets the logger used for async append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the store, or to the async queue.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.queue == nil {
		return p.store.Append(ctx, event)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "audit event dropped", "action", event.Action)
		return ErrBufferFull
	}
}

// Close stops accepting events and waits for queued ones to be appended.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	if p.done != nil {
		<-p.done
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to append audit event",
				"action", event.Action,
				"error", err,
			)
		}
		cancel()
	}
}
