package service

import (
	"context"
	"errors"

	"portal/internal/identity"
	"portal/internal/session/models"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// BeginResult tells the browser where the interactive step lives.
type BeginResult struct {
	RedirectURL string
	AttemptID   id.AttemptID
}

// Begin moves SignedOut to Verifying and returns the provider URL. A second
// Begin while an attempt is pending fails with CodeSignInInProgress and
// leaves the pending attempt untouched.
func (s *Service) Begin(ctx context.Context, sessionID id.SessionID) (*BeginResult, error) {
	if _, err := s.Ensure(ctx, sessionID); err != nil {
		return nil, err
	}

	verifier, err := identity.NewVerifier()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start sign-in")
	}
	attemptID := id.NewAttemptID()
	now := requestcontext.Now(ctx)

	session, err := s.sessions.Execute(ctx, sessionID,
		func(sess *models.Session) error { return sess.CanBegin(now) },
		func(sess *models.Session) { sess.ApplyBegin(attemptID, verifier, now, s.attemptTTL) },
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSignInInProgress) {
			s.metrics.recordOutcome(models.OutcomeSignInInProgress)
			s.logger.InfoContext(ctx, "sign-in already in progress",
				"session_id", sessionID.String(),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, storeError(err, "failed to start sign-in")
	}
	s.commit(ctx, session, now)

	s.emitAudit(ctx, audit.Event{
		Action:    audit.EventSignInStarted,
		SessionID: sessionID.String(),
	})

	return &BeginResult{
		RedirectURL: s.provider.AuthCodeURL(attemptID.String(), session.Verifier),
		AttemptID:   attemptID,
	}, nil
}

// Complete handles the provider redirect. Only a provider identity that the
// gate approves produces SignedIn; every other result lands in SignedOut
// with the matching outcome. A callback for an attempt that is no longer
// pending is rejected with CodeInvalidState and changes nothing.
func (s *Service) Complete(ctx context.Context, sessionID id.SessionID, cb Callback) (*models.Session, error) {
	attemptID, err := id.ParseAttemptID(cb.State)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "sign-in attempt does not match")
	}

	pending, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to load session")
	}
	if err := pending.CheckAttempt(attemptID, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}

	if cbErr := identity.CallbackError(cb.Error, cb.ErrorDescription); cbErr != nil {
		if errors.Is(cbErr, identity.ErrCancelled) {
			return s.fail(ctx, sessionID, attemptID, models.OutcomeCancelled, audit.EventSignInCancelled, "user_cancelled", nil)
		}
		s.logger.WarnContext(ctx, "identity provider returned an error",
			"session_id", sessionID.String(),
			"error", cbErr,
			"request_id", requestcontext.RequestID(ctx),
		)
		return s.fail(ctx, sessionID, attemptID, models.OutcomeUnexpectedError, audit.EventSignInFailed, "provider_error", nil)
	}
	if cb.Code == "" {
		return s.fail(ctx, sessionID, attemptID, models.OutcomeUnexpectedError, audit.EventSignInFailed, "missing_code", nil)
	}

	ident, err := s.provider.Exchange(ctx, cb.Code, pending.Verifier)
	if errors.Is(err, identity.ErrUnverifiedEmail) {
		return s.fail(ctx, sessionID, attemptID, models.OutcomeNotAuthorized, audit.EventSignInDenied, "email_unverified", nil)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "code exchange failed",
			"session_id", sessionID.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return s.fail(ctx, sessionID, attemptID, models.OutcomeUnexpectedError, audit.EventSignInFailed, "exchange_failed", nil)
	}

	verdict, err := s.gate.Verify(ctx, ident.Email.String())
	if err != nil || !verdict.IsAuthorized {
		reason := "not_authorized"
		if err != nil {
			reason = "verification_failed"
		}
		s.signOutAtProvider(ctx, ident)
		return s.fail(ctx, sessionID, attemptID, models.OutcomeNotAuthorized, audit.EventSignInDenied, reason, &ident)
	}

	now := requestcontext.Now(ctx)
	session, err := s.sessions.Execute(ctx, sessionID,
		func(sess *models.Session) error { return sess.CheckAttempt(attemptID, now) },
		func(sess *models.Session) { sess.ApplySignedIn(ident, now, s.sessionTTL) },
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return nil, s.discard(ctx, sessionID, ident)
		}
		return nil, storeError(err, "failed to complete sign-in")
	}
	s.commit(ctx, session, now)
	s.metrics.recordOutcome(models.OutcomeNone)

	s.emitAudit(ctx, audit.Event{
		Action:    audit.EventSignInCompleted,
		Subject:   ident.Email.String(),
		SessionID: sessionID.String(),
		Decision:  "granted",
	})
	s.logger.InfoContext(ctx, "sign-in completed",
		"session_id", sessionID.String(),
		"email", ident.Email.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return session, nil
}

// fail commits SignedOut with outcome if the attempt is still pending. When
// the attempt was cancelled meanwhile the result is discarded.
func (s *Service) fail(ctx context.Context, sessionID id.SessionID, attemptID id.AttemptID, outcome models.Outcome, action audit.AuditEvent, reason string, ident *identity.Identity) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	session, err := s.sessions.Execute(ctx, sessionID,
		func(sess *models.Session) error { return sess.CheckAttempt(attemptID, now) },
		func(sess *models.Session) { sess.ApplySignedOut(outcome, now) },
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			s.metrics.recordDiscarded()
		}
		return nil, storeError(err, "failed to record sign-in outcome")
	}
	s.commit(ctx, session, now)
	s.metrics.recordOutcome(outcome)

	event := audit.Event{
		Action:    action,
		SessionID: sessionID.String(),
		Decision:  "denied",
		Reason:    reason,
	}
	if ident != nil {
		event.Subject = ident.Email.String()
	}
	s.emitAudit(ctx, event)
	return session, nil
}

// discard drops a provider identity whose attempt was cancelled while the
// exchange was in flight.
func (s *Service) discard(ctx context.Context, sessionID id.SessionID, ident identity.Identity) error {
	s.metrics.recordDiscarded()
	s.logger.InfoContext(ctx, "discarding sign-in result for cancelled attempt",
		"session_id", sessionID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.signOutAtProvider(ctx, ident)
	return dErrors.New(dErrors.CodeInvalidState, "sign-in attempt was cancelled")
}

// Cancel abandons the pending attempt.
func (s *Service) Cancel(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	session, err := s.sessions.Execute(ctx, sessionID,
		func(sess *models.Session) error {
			if sess.EffectiveState(now) != models.StateVerifying {
				return dErrors.New(dErrors.CodeInvalidState, "no sign-in is pending for this session")
			}
			return nil
		},
		func(sess *models.Session) { sess.ApplySignedOut(models.OutcomeCancelled, now) },
	)
	if err != nil {
		return nil, storeError(err, "failed to cancel sign-in")
	}
	s.commit(ctx, session, now)
	s.metrics.recordOutcome(models.OutcomeCancelled)

	s.emitAudit(ctx, audit.Event{
		Action:    audit.EventSignInCancelled,
		SessionID: sessionID.String(),
		Reason:    "cancelled_by_client",
	})
	return session, nil
}

// SignOut returns any state to SignedOut and ends the provider session of a
// signed-in identity. Signing out an unknown session is a no-op.
func (s *Service) SignOut(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	var previous *identity.Identity

	session, err := s.sessions.Execute(ctx, sessionID, nil, func(sess *models.Session) {
		if sess.Identity != nil {
			ident := *sess.Identity
			previous = &ident
		}
		sess.ApplySignedOut(models.OutcomeSignedOut, now)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.Current(ctx, sessionID)
	}
	if err != nil {
		return nil, storeError(err, "failed to sign out")
	}
	s.commit(ctx, session, now)

	event := audit.Event{
		Action:    audit.EventSignedOut,
		SessionID: sessionID.String(),
	}
	if previous != nil {
		event.Subject = previous.Email.String()
		s.signOutAtProvider(ctx, *previous)
	}
	s.emitAudit(ctx, event)
	return session, nil
}

func (s *Service) signOutAtProvider(ctx context.Context, ident identity.Identity) {
	if err := s.provider.SignOut(ctx, ident); err != nil {
		s.logger.WarnContext(ctx, "provider sign-out failed",
			"email", ident.Email.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
