// Package models holds the session record and its state transitions. The
// transition methods are pure; stores apply them atomically.
package models

import (
	"time"

	"portal/internal/identity"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// State is the sign-in state of one browser context.
type State string

const (
	StateSignedOut State = "signed_out"
	StateVerifying State = "verifying"
	StateSignedIn  State = "signed_in"
)

// Outcome is the result of the last sign-in attempt, shown on the login
// screen until the next attempt starts.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeNotAuthorized    Outcome = "not_authorized"
	OutcomeUnexpectedError  Outcome = "unexpected_error"
	OutcomeSignInInProgress Outcome = "sign_in_in_progress"
	OutcomeSignedOut        Outcome = "signed_out"
)

// Message returns the login screen text for the outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeCancelled:
		return "Sign-in was cancelled."
	case OutcomeNotAuthorized:
		return "This account is not authorized to access the investor portal."
	case OutcomeUnexpectedError:
		return "An unexpected error occurred during sign-in. Please try again."
	case OutcomeSignInInProgress:
		return "A sign-in is already in progress. Finish it in the open window or wait a few minutes and try again."
	case OutcomeSignedOut:
		return "You have been signed out."
	default:
		return ""
	}
}

var ErrSignInInProgress = dErrors.New(dErrors.CodeSignInInProgress, OutcomeSignInInProgress.Message())

// Session is the per-browser record.
type Session struct {
	ID       id.SessionID       `json:"id"`
	State    State              `json:"state"`
	Identity *identity.Identity `json:"identity,omitempty"`

	// AttemptID is the OIDC state of the pending attempt. Verifier is its PKCE
	// code verifier and never leaves the server.
	AttemptID        id.AttemptID `json:"attempt_id"`
	Verifier         string       `json:"verifier,omitempty"`
	AttemptExpiresAt time.Time    `json:"attempt_expires_at"`

	Device      string    `json:"device,omitempty"`
	LastOutcome Outcome   `json:"last_outcome,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// New returns a signed-out record valid for ttl.
func New(sessionID id.SessionID, device string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        sessionID,
		State:     StateSignedOut,
		Device:    device,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired reports whether the record has outlived its TTL.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AttemptExpired reports whether a Verifying attempt has been abandoned.
func (s *Session) AttemptExpired(now time.Time) bool {
	return s.State == StateVerifying && !s.AttemptExpiresAt.IsZero() && !now.Before(s.AttemptExpiresAt)
}

// EffectiveState folds expiry into the stored state: an expired sign-in or an
// abandoned attempt reads as signed out.
func (s *Session) EffectiveState(now time.Time) State {
	if s.IsExpired(now) || s.AttemptExpired(now) {
		return StateSignedOut
	}
	return s.State
}

// IsSignedIn reports whether the session may see protected views.
func (s *Session) IsSignedIn(now time.Time) bool {
	return s.EffectiveState(now) == StateSignedIn && s.Identity != nil
}

// CanBegin rejects a new attempt while another one is still pending.
func (s *Session) CanBegin(now time.Time) error {
	if s.EffectiveState(now) == StateVerifying {
		return ErrSignInInProgress
	}
	return nil
}

// ApplyBegin moves the session into Verifying with a fresh attempt. Any
// previous identity is dropped.
func (s *Session) ApplyBegin(attemptID id.AttemptID, verifier string, now time.Time, attemptTTL time.Duration) {
	s.State = StateVerifying
	s.Identity = nil
	s.AttemptID = attemptID
	s.Verifier = verifier
	s.AttemptExpiresAt = now.Add(attemptTTL)
	s.LastOutcome = OutcomeNone
	s.UpdatedAt = now
	if s.ExpiresAt.Before(s.AttemptExpiresAt) {
		s.ExpiresAt = s.AttemptExpiresAt
	}
}

// CheckAttempt verifies that a callback belongs to the pending attempt.
func (s *Session) CheckAttempt(attemptID id.AttemptID, now time.Time) error {
	if s.EffectiveState(now) != StateVerifying {
		return dErrors.New(dErrors.CodeInvalidState, "no sign-in is pending for this session")
	}
	if s.AttemptID != attemptID {
		return dErrors.New(dErrors.CodeInvalidState, "sign-in attempt does not match")
	}
	return nil
}

// ApplySignedIn records the verified identity and extends the record by ttl.
func (s *Session) ApplySignedIn(ident identity.Identity, now time.Time, ttl time.Duration) {
	s.State = StateSignedIn
	s.Identity = &ident
	s.clearAttempt()
	s.LastOutcome = OutcomeNone
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// ApplySignedOut returns the session to SignedOut with the given outcome.
func (s *Session) ApplySignedOut(outcome Outcome, now time.Time) {
	s.State = StateSignedOut
	s.Identity = nil
	s.clearAttempt()
	s.LastOutcome = outcome
	s.UpdatedAt = now
}

func (s *Session) clearAttempt() {
	s.AttemptID = id.AttemptID{}
	s.Verifier = ""
	s.AttemptExpiresAt = time.Time{}
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Identity != nil {
		ident := *s.Identity
		c.Identity = &ident
	}
	return &c
}

// View is the client-facing projection of a session. It never carries the
// verifier or the provider token.
type View struct {
	State       State   `json:"state"`
	Email       string  `json:"email,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Device      string  `json:"device,omitempty"`
	Outcome     Outcome `json:"outcome,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// ToView projects the session for the client as of now.
func (s *Session) ToView(now time.Time) View {
	v := View{
		State:   s.EffectiveState(now),
		Device:  s.Device,
		Outcome: s.LastOutcome,
		Message: s.LastOutcome.Message(),
	}
	if v.State == StateSignedIn && s.Identity != nil {
		v.Email = s.Identity.Email.String()
		v.DisplayName = s.Identity.DisplayName
	}
	return v
}
