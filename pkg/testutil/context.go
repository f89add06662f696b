package testutil

import (
	"net/http"

	id "portal/pkg/domain"
	"portal/pkg/requestcontext"
)

// WithSignedIn simulates what the session middleware does for a SignedIn
// session: session ID plus identity on the context. Invalid IDs are ignored.
func WithSignedIn(req *http.Request, sessionID, email, displayName string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseSessionID(sessionID); err == nil {
		ctx = requestcontext.WithSessionID(ctx, parsed)
	}
	if parsed, err := id.ParseEmail(email); err == nil {
		ctx = requestcontext.WithIdentity(ctx, parsed, displayName)
	}
	return req.WithContext(ctx)
}
