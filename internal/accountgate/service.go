// Package accountgate is the blocking hook the identity platform calls before
// it creates an account. Only allow-listed emails may sign up; every failure
// to confirm that denies.
package accountgate

import (
	"context"
	"errors"
	"log/slog"

	"portal/internal/allowlist"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/requestcontext"
)

// User-facing messages returned to the identity platform, which shows them on
// the sign-up form.
const (
	MessageEmailRequired = "Email is required to sign up."
	MessageNotAuthorized = "This email address is not authorized to create an account."
)

// Gate is the allow-list verdict source.
type Gate interface {
	Verify(ctx context.Context, email string) (allowlist.Verdict, error)
}

// Service decides whether an account may be created.
type Service struct {
	gate    Gate
	auditor audit.Emitter
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Service)

func WithAuditor(auditor audit.Emitter) Option {
	return func(s *Service) { s.auditor = auditor }
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

func New(gate Gate, opts ...Option) (*Service, error) {
	if gate == nil {
		return nil, errors.New("allow-list gate is required")
	}
	s := &Service{gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BeforeCreate returns nil when email may hold an account. A missing or
// malformed email is a CodeValidation error; a denial or any verification
// failure is a CodeForbidden error.
func (s *Service) BeforeCreate(ctx context.Context, uid, email string) error {
	verdict, err := s.gate.Verify(ctx, email)
	switch {
	case dErrors.HasCode(err, dErrors.CodeValidation):
		s.metrics.record(decisionInvalid)
		s.emitAudit(ctx, email, "denied", "email_required")
		return dErrors.Wrap(err, dErrors.CodeValidation, MessageEmailRequired)
	case err != nil:
		s.metrics.record(decisionVerificationFailed)
		s.logger.WarnContext(ctx, "account creation blocked: allow-list unavailable",
			"uid", uid,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emitAudit(ctx, email, "denied", "verification_failed")
		return dErrors.Wrap(err, dErrors.CodeForbidden, MessageNotAuthorized)
	case !verdict.IsAuthorized:
		s.metrics.record(decisionDenied)
		s.logger.InfoContext(ctx, "account creation denied",
			"uid", uid,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emitAudit(ctx, email, "denied", "not_authorized")
		return dErrors.New(dErrors.CodeForbidden, MessageNotAuthorized)
	}

	s.metrics.record(decisionAllowed)
	s.emitAudit(ctx, email, "allowed", "")
	return nil
}

func (s *Service) emitAudit(ctx context.Context, email, decision, reason string) {
	if s.auditor == nil {
		return
	}
	action := audit.EventAccountCreationAllowed
	if decision != "allowed" {
		action = audit.EventAccountCreationDenied
	}
	event := audit.Event{
		Action:    action,
		Subject:   email,
		Decision:  decision,
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", string(action),
			"error", err,
			"request_id", event.RequestID,
		)
	}
}
