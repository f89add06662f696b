package views

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"portal/internal/session/models"
	"portal/internal/session/notifier"
	"portal/internal/upstream"
	id "portal/pkg/domain"
)

// View names used in logs and metrics.
const (
	ViewDashboard = "dashboard"
	ViewGroup     = "group"
	ViewAgreement = "agreement"
)

const (
	defaultPrefetchWindow = 15 * time.Second
	defaultIdleTTL        = 30 * time.Minute
	sweepInterval         = time.Minute
)

// Upstream is the read API the views fetch from.
type Upstream interface {
	UserDashboard(ctx context.Context, email id.Email) (*upstream.Dashboard, error)
	GroupDetails(ctx context.Context, groupID id.GroupID) (*upstream.GroupDetails, error)
}

// Subscriber delivers committed session transitions.
type Subscriber interface {
	Subscribe(filter notifier.Filter) (<-chan notifier.Event, func())
}

// Session holds the loaders of one browser session. Views never share
// loaders across sessions.
type Session struct {
	Dashboard *Loader[id.Email, *upstream.Dashboard]
	Group     *Loader[id.GroupID, *upstream.GroupDetails]
	Agreement *Loader[id.GroupID, *upstream.GroupDetails]

	lastUsed time.Time
}

// SheetName returns the fullName of email's settled dashboard without starting
// a fetch. It is empty until the dashboard has loaded for that email.
func (s *Session) SheetName(email id.Email) string {
	snap := s.Dashboard.Snapshot()
	if snap.State != StateReady || snap.Key != email || snap.Value == nil {
		return ""
	}
	return string(snap.Value.FullName)
}

func (s *Session) reset() {
	s.Dashboard.Reset()
	s.Group.Reset()
	s.Agreement.Reset()
}

// Registry owns the per-session loaders and reacts to session transitions:
// entering SignedIn prefetches the dashboard, leaving it drops everything.
type Registry struct {
	upstream       Upstream
	prefetchWindow time.Duration
	idleTTL        time.Duration
	metrics        *Metrics
	logger         *slog.Logger
	now            func() time.Time

	mu       sync.Mutex
	sessions map[id.SessionID]*Session
}

type RegistryOption func(*Registry)

// WithPrefetchWindow sets how long a prefetched dashboard may be served to
// the first mount without another read.
func WithPrefetchWindow(d time.Duration) RegistryOption {
	return func(r *Registry) { r.prefetchWindow = d }
}

// WithIdleTTL sets how long an unused session's loaders are kept.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the clock used for idle eviction and freshness.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(up Upstream, opts ...RegistryOption) (*Registry, error) {
	if up == nil {
		return nil, errors.New("upstream client is required")
	}
	r := &Registry{
		upstream:       up,
		prefetchWindow: defaultPrefetchWindow,
		idleTTL:        defaultIdleTTL,
		logger:         slog.Default(),
		now:            time.Now,
		sessions:       make(map[id.SessionID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// For returns the loaders of a session, creating them on first use.
func (r *Registry) For(sessionID id.SessionID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = r.newSession()
		r.sessions[sessionID] = s
	}
	s.lastUsed = r.now()
	return s
}

func (r *Registry) newSession() *Session {
	common := []LoaderOption{
		WithLoaderMetrics(r.metrics),
		WithLoaderLogger(r.logger),
		WithLoaderClock(r.now),
	}
	return &Session{
		Dashboard: NewLoader(ViewDashboard, r.upstream.UserDashboard,
			append(common, WithFreshness(r.prefetchWindow))...),
		Group:     NewLoader(ViewGroup, r.upstream.GroupDetails, common...),
		Agreement: NewLoader(ViewAgreement, r.upstream.GroupDetails, common...),
	}
}

// Forget cancels the session's fetches and drops its loaders.
func (r *Registry) Forget(sessionID id.SessionID) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		s.reset()
	}
}

// Handle applies one session transition.
func (r *Registry) Handle(ctx context.Context, ev notifier.Event) {
	switch ev.State {
	case models.StateSignedIn:
		if ev.Email == "" {
			return
		}
		r.For(ev.SessionID).Dashboard.Prefetch(ctx, ev.Email)
		r.logger.DebugContext(ctx, "dashboard prefetch started",
			"session_id", ev.SessionID.String(),
		)
	case models.StateSignedOut:
		r.Forget(ev.SessionID)
	}
}

// Run consumes transitions until ctx is done, evicting idle sessions along
// the way.
func (r *Registry) Run(ctx context.Context, events Subscriber) error {
	ch, cancel := events.Subscribe(nil)
	defer cancel()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle view sessions", "count", n)
			}
		}
	}
}

// Sweep drops sessions unused for longer than the idle TTL and returns how
// many were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Session
	for sid, s := range r.sessions {
		if s.lastUsed.Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, sid)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.reset()
	}
	return len(idle)
}

// Len returns the number of sessions with loaders.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
