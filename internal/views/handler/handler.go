// Package handler serves the protected screens. It assumes the route guard
// already ran: every request carries a SignedIn identity.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal/internal/upstream"
	"portal/internal/views"
	id "portal/pkg/domain"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

const loginPath = "/"

// Registry hands out the loaders of a session.
type Registry interface {
	For(sessionID id.SessionID) *views.Session
}

// AgreementRenderer renders a group's agreement.
type AgreementRenderer interface {
	Render(groupID id.GroupID, g *upstream.GroupDetails) (*views.Agreement, error)
}

// Failure is the neutral body of a view that could not load. The upstream's
// own text is never included.
type Failure struct {
	Screen  string `json:"screen"`
	State   string `json:"state"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

var failureMessages = map[string]string{
	views.ViewDashboard: "We couldn't load your dashboard right now. Please try again later.",
	views.ViewGroup:     "We couldn't load this investment group right now. Please try again later.",
	views.ViewAgreement: "We couldn't load this agreement right now. Please try again later.",
}

// Handler serves the dashboard, group and agreement screens.
type Handler struct {
	registry   Registry
	agreements AgreementRenderer
	logger     *slog.Logger
}

func New(registry Registry, agreements AgreementRenderer, logger *slog.Logger) *Handler {
	return &Handler{
		registry:   registry,
		agreements: agreements,
		logger:     logger,
	}
}

// Register mounts the protected screens. The caller wraps r with the guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/dashboard", h.HandleDashboard)
	r.Get("/group/{groupId}", h.HandleGroup)
	r.Get("/group/{groupId}/agreement", h.HandleAgreement)
}

// HandleDashboard handles GET /dashboard, keyed by the session email.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, ok := views.ViewerFromContext(ctx)
	if !ok {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}

	d, err := h.registry.For(requestcontext.SessionID(ctx)).Dashboard.Load(ctx, viewer.Email)
	if err != nil {
		h.writeFailure(w, r, views.ViewDashboard, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views.BuildDashboard(d, viewer))
}

// HandleGroup handles GET /group/{groupId}.
func (h *Handler) HandleGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, groupID, ok := h.groupRequest(w, r)
	if !ok {
		return
	}

	loaders := h.registry.For(requestcontext.SessionID(ctx))
	g, err := loaders.Group.Load(ctx, groupID)
	if err != nil {
		h.writeFailure(w, r, views.ViewGroup, err)
		return
	}
	viewer.SheetName = loaders.SheetName(viewer.Email)
	httputil.WriteJSON(w, http.StatusOK, views.BuildGroup(groupID, g, viewer))
}

// HandleAgreement handles GET /group/{groupId}/agreement.
func (h *Handler) HandleAgreement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, groupID, ok := h.groupRequest(w, r)
	if !ok {
		return
	}

	g, err := h.registry.For(requestcontext.SessionID(ctx)).Agreement.Load(ctx, groupID)
	if err != nil {
		h.writeFailure(w, r, views.ViewAgreement, err)
		return
	}
	agreement, err := h.agreements.Render(groupID, g)
	if err != nil {
		h.writeFailure(w, r, views.ViewAgreement, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agreement)
}

func (h *Handler) groupRequest(w http.ResponseWriter, r *http.Request) (views.Viewer, id.GroupID, bool) {
	viewer, ok := views.ViewerFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return views.Viewer{}, "", false
	}
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupId"))
	if err != nil {
		httputil.WriteError(w, err)
		return views.Viewer{}, "", false
	}
	return viewer, groupID, true
}

// writeFailure ends the view in its failed state. Only this view is
// affected; the session and sibling views are untouched.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, view string, err error) {
	ctx := r.Context()
	if ctx.Err() != nil {
		// The browser went away; nobody is left to read a response.
		return
	}

	status, code := failureStatus(err)
	h.logger.WarnContext(ctx, "view failed to load",
		"view", view,
		"error_code", code,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, status, Failure{
		Screen:  view,
		State:   string(views.StateFailed),
		Error:   code,
		Message: failureMessages[view],
	})
}

func failureStatus(err error) (int, string) {
	if errors.Is(err, views.ErrSuperseded) {
		return http.StatusConflict, "superseded"
	}
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, "internal_error"
	}
	switch ue.Category {
	case upstream.CategoryTimeout:
		return http.StatusGatewayTimeout, string(ue.Category)
	default:
		return http.StatusBadGateway, string(ue.Category)
	}
}
