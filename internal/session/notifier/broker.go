// Package notifier fans committed session transitions out to in-process
// subscribers.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"portal/internal/session/models"
	id "portal/pkg/domain"
)

const defaultBuffer = 16

// Event describes one committed transition.
type Event struct {
	SessionID id.SessionID   `json:"-"`
	State     models.State   `json:"state"`
	Email     id.Email       `json:"email,omitempty"`
	Display   string         `json:"display_name,omitempty"`
	Outcome   models.Outcome `json:"outcome,omitempty"`
	At        time.Time      `json:"at"`
}

// EventFromSession builds the event for a freshly committed record.
func EventFromSession(s *models.Session, now time.Time) Event {
	ev := Event{
		SessionID: s.ID,
		State:     s.EffectiveState(now),
		Outcome:   s.LastOutcome,
		At:        now,
	}
	if ev.State == models.StateSignedIn && s.Identity != nil {
		ev.Email = s.Identity.Email
		ev.Display = s.Identity.DisplayName
	}
	return ev
}

// Filter selects the events a subscriber wants. A nil filter accepts all.
type Filter func(Event) bool

// ForSession accepts only events of one session.
func ForSession(sessionID id.SessionID) Filter {
	return func(ev Event) bool { return ev.SessionID == sessionID }
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker is a non-blocking fan-out. A subscriber that does not keep up loses
// events rather than stalling the publisher.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	buffer  int
	logger  *slog.Logger
	dropped func()
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used to report dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook is called once per dropped event.
func WithDropHook(fn func()) Option {
	return func(b *Broker) { b.dropped = fn }
}

// New returns an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[*subscriber]struct{}),
		buffer: defaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers a subscriber. The returned cancel function unregisters
// it and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer), filter: filter}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.WarnContext(ctx, "session event dropped for slow subscriber",
				"session_id", ev.SessionID.String(),
				"state", string(ev.State),
			)
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
