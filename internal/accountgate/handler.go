package accountgate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/httputil"
	"portal/pkg/platform/middleware/secret"
	"portal/pkg/requestcontext"
)

// HookPath is where the identity platform posts before-create events.
const HookPath = "/hooks/before-create"

const maxHookBody = 64 << 10

// Status values understood by the identity platform's blocking functions.
const (
	StatusInvalidArgument  = "INVALID_ARGUMENT"
	StatusPermissionDenied = "PERMISSION_DENIED"
)

// HookRequest is the before-create payload.
type HookRequest struct {
	Data struct {
		UID   string `json:"uid"`
		Email string `json:"email"`
	} `json:"data"`
}

// HookError is the rejection body the platform relays to the sign-up form.
type HookError struct {
	Error HookErrorBody `json:"error"`
}

type HookErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Checker decides on one account creation.
type Checker interface {
	BeforeCreate(ctx context.Context, uid, email string) error
}

// Handler serves the before-create hook behind the shared hook secret.
type Handler struct {
	checker    Checker
	hookSecret string
	logger     *slog.Logger
}

func NewHandler(checker Checker, hookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		checker:    checker,
		hookSecret: hookSecret,
		logger:     logger,
	}
}

// Register mounts the hook.
func (h *Handler) Register(r chi.Router) {
	r.With(secret.Require(secret.HeaderHookSecret, h.hookSecret, h.logger)).
		Post(HookPath, h.HandleBeforeCreate)
}

// HandleBeforeCreate answers 200 {} to allow creation, 400 INVALID_ARGUMENT
// when no email was supplied and 403 PERMISSION_DENIED otherwise.
func (h *Handler) HandleBeforeCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req HookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxHookBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "malformed before-create payload",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeHookError(w, http.StatusBadRequest, StatusInvalidArgument, "Malformed request.")
		return
	}

	if err := h.checker.BeforeCreate(ctx, req.Data.UID, req.Data.Email); err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeValidation:
			writeHookError(w, http.StatusBadRequest, StatusInvalidArgument, MessageEmailRequired)
		case dErrors.CodeForbidden:
			writeHookError(w, http.StatusForbidden, StatusPermissionDenied, MessageNotAuthorized)
		default:
			h.logger.ErrorContext(ctx, "before-create hook failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeHookError(w, http.StatusForbidden, StatusPermissionDenied, MessageNotAuthorized)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct{}{})
}

func writeHookError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteJSON(w, status, HookError{Error: HookErrorBody{Status: code, Message: message}})
}
