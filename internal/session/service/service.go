// Package service runs the sign-in state machine. It is the only writer of
// session records.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"portal/internal/allowlist"
	"portal/internal/identity"
	"portal/internal/session/device"
	"portal/internal/session/models"
	"portal/internal/session/notifier"
	"portal/internal/session/store"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

const (
	DefaultSessionTTL = 12 * time.Hour
	DefaultAttemptTTL = 10 * time.Minute
)

// Store persists session records with atomic read-modify-write.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Execute(ctx context.Context, sessionID id.SessionID, validate store.ValidateFunc, mutate store.MutateFunc) (*models.Session, error)
}

// Gate is the allow-list check run after the provider round trip.
type Gate interface {
	Verify(ctx context.Context, email string) (allowlist.Verdict, error)
}

// Notifier receives every committed transition.
type Notifier interface {
	Publish(ctx context.Context, ev notifier.Event)
}

// Callback carries the query parameters of the provider redirect.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Service implements Begin, Complete, Cancel, SignOut and Current.
type Service struct {
	sessions Store
	provider identity.Provider
	gate     Gate
	notifier Notifier
	auditor  audit.Emitter
	logger   *slog.Logger
	metrics  *Metrics

	sessionTTL time.Duration
	attemptTTL time.Duration
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) { s.auditor = a }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSessionTTL sets how long a signed-in session lasts.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithAttemptTTL sets how long a Verifying attempt blocks a new one.
func WithAttemptTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTTL = d
		}
	}
}

func New(sessions Store, provider identity.Provider, gate Gate, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if gate == nil {
		return nil, errors.New("authorization gate is required")
	}
	s := &Service{
		sessions:   sessions,
		provider:   provider,
		gate:       gate,
		logger:     slog.Default(),
		sessionTTL: DefaultSessionTTL,
		attemptTTL: DefaultAttemptTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ensure returns the session for sessionID, creating a SignedOut record on
// first contact.
func (s *Service) Ensure(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session ID required")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}

	now := requestcontext.Now(ctx)
	session = models.New(sessionID, device.ParseUserAgent(requestcontext.UserAgent(ctx)), now, s.sessionTTL)
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another request for the same cookie created it first.
			existing, findErr := s.sessions.FindByID(ctx, sessionID)
			if findErr == nil {
				return existing, nil
			}
			err = findErr
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	return session, nil
}

// Current returns the session without creating it. An unknown id reads as a
// signed-out session.
func (s *Service) Current(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.New(sessionID, "", requestcontext.Now(ctx), s.sessionTTL), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return session, nil
}

func (s *Service) commit(ctx context.Context, session *models.Session, now time.Time) {
	ev := notifier.EventFromSession(session, now)
	s.metrics.recordTransition(ev.State)
	if s.notifier != nil {
		s.notifier.Publish(ctx, ev)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", string(event.Action),
			"error", err,
			"request_id", event.RequestID,
		)
	}
}

func storeError(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeInvalidState, "session not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session was modified concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
