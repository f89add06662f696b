// Package handler exposes the sign-in flow over HTTP: the login screen, the
// provider round trip, cancel, sign-out, the session read model and a
// server-sent event stream of transitions.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"portal/internal/session/models"
	"portal/internal/session/notifier"
	"portal/internal/session/service"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

const (
	loginPath     = "/"
	dashboardPath = "/dashboard"

	defaultHeartbeat = 15 * time.Second
)

// Service is the sign-in flow.
type Service interface {
	Begin(ctx context.Context, sessionID id.SessionID) (*service.BeginResult, error)
	Complete(ctx context.Context, sessionID id.SessionID, cb service.Callback) (*models.Session, error)
	Cancel(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	SignOut(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Current(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
}

// Subscriber delivers session transitions.
type Subscriber interface {
	Subscribe(filter notifier.Filter) (<-chan notifier.Event, func())
}

// CookieWriter refreshes the session cookie after a successful sign-in and
// expires it on sign-out.
type CookieWriter interface {
	SetCookie(w http.ResponseWriter, sessionID id.SessionID, ttl time.Duration) error
	ClearCookie(w http.ResponseWriter)
}

// Handler wires the sign-in endpoints to the flow service.
type Handler struct {
	service   Service
	events    Subscriber
	cookies   CookieWriter
	cookieTTL time.Duration
	logger    *slog.Logger
	heartbeat time.Duration
}

// New constructs a session handler.
func New(service Service, events Subscriber, cookies CookieWriter, cookieTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		events:    events,
		cookies:   cookies,
		cookieTTL: cookieTTL,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// Register mounts the login screen and the /auth endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get(loginPath, h.HandleLoginScreen)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.HandleLogin)
		r.Get("/callback", h.HandleCallback)
		r.Post("/cancel", h.HandleCancel)
		r.Post("/logout", h.HandleLogout)
		r.Get("/session", h.HandleSession)
		r.Get("/events", h.HandleEvents)
	})
}

// LoginScreen is the view model of the public landing page.
type LoginScreen struct {
	Screen string `json:"screen"`
	models.View
	SignInPath string `json:"sign_in_path"`
}

// HandleLoginScreen handles GET /. Signed-in browsers go straight to the
// dashboard; everyone else gets the login model with the last outcome.
func (h *Handler) HandleLoginScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requestcontext.Email(ctx); ok {
		http.Redirect(w, r, dashboardPath, http.StatusFound)
		return
	}
	session, ok := h.current(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginScreen{
		Screen:     "login",
		View:       session.ToView(requestcontext.Now(ctx)),
		SignInPath: "/auth/login",
	})
}

// HandleLogin handles GET /auth/login by redirecting to the provider.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if _, ok := requestcontext.Email(ctx); ok {
		http.Redirect(w, r, dashboardPath, http.StatusFound)
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Begin(ctx, sessionID)
	if err != nil {
		h.logger.InfoContext(ctx, "sign-in could not start",
			"session_id", sessionID.String(),
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// HandleCallback handles GET /auth/callback from the provider.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	session, err := h.service.Complete(ctx, sessionID, service.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "sign-in callback rejected",
			"session_id", sessionID.String(),
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	if !session.IsSignedIn(requestcontext.Now(ctx)) {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}
	if err := h.cookies.SetCookie(w, sessionID, h.cookieTTL); err != nil {
		h.logger.ErrorContext(ctx, "failed to refresh session cookie",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to refresh session cookie"))
		return
	}
	http.Redirect(w, r, dashboardPath, http.StatusFound)
}

// HandleCancel handles POST /auth/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// HandleLogout handles POST /auth/logout.
// The cookie is expired once the session is SignedOut, so the next request
// starts a fresh session instead of reusing the old id.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
		session, err := h.service.SignOut(ctx, sessionID)
		if err == nil && h.cookies != nil {
			h.cookies.ClearCookie(w)
		}
		return session, err
	})
}

// HandleSession handles GET /auth/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.current(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.ToView(requestcontext.Now(r.Context())))
}

// HandleEvents handles GET /auth/events as a server-sent event stream. The
// current view is sent first, then one event per committed transition of
// this browser's session.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming not supported"))
		return
	}
	session, ok := h.current(w, r)
	if !ok {
		return
	}

	events, cancel := h.events.Subscribe(notifier.ForSession(session.ID))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "session", session.ToView(requestcontext.Now(ctx))); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, "transition", ev); err != nil {
				h.logger.DebugContext(ctx, "session event stream closed", "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.SessionID) (*models.Session, error)) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := fn(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session.ToView(requestcontext.Now(ctx)))
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return nil, false
	}
	session, err := h.service.Current(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID := requestcontext.SessionID(r.Context())
	if sessionID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session required"))
		return id.SessionID{}, false
	}
	return sessionID, true
}
