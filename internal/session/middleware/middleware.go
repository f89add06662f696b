// Package middleware resolves the browser session for every request and
// guards the protected views.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"portal/internal/session/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

// SessionLoader returns the record for a session, creating it on first contact.
type SessionLoader interface {
	Ensure(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
}

// CookieCodec reads and writes the signed session cookie.
type CookieCodec interface {
	FromRequest(r *http.Request) (id.SessionID, error)
	SetCookie(w http.ResponseWriter, sessionID id.SessionID, ttl time.Duration) error
}

// LoadSession puts the session id on the request context, and the identity
// when the session is SignedIn. A request without a valid cookie gets a new
// session and cookie.
func LoadSession(cookies CookieCodec, sessions SessionLoader, cookieTTL time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			sessionID, err := cookies.FromRequest(r)
			if err != nil {
				sessionID = id.NewSessionID()
				if err := cookies.SetCookie(w, sessionID, cookieTTL); err != nil {
					logger.ErrorContext(ctx, "failed to issue session cookie",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, err)
					return
				}
			}

			session, err := sessions.Ensure(ctx, sessionID)
			if err != nil {
				logger.ErrorContext(ctx, "failed to load session",
					"session_id", sessionID.String(),
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithSessionID(ctx, sessionID)
			if session.IsSignedIn(requestcontext.Now(ctx)) {
				ctx = requestcontext.WithIdentity(ctx, session.Identity.Email, session.Identity.DisplayName)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSignedIn redirects to the login screen unless LoadSession found a
// SignedIn session. The protected handler never runs in that case.
func RequireSignedIn(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := requestcontext.Email(ctx); !ok {
				logger.DebugContext(ctx, "redirecting unauthenticated request",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
