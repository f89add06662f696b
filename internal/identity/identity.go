// Package identity defines the identity provider port used by the sign-in flow.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	id "portal/pkg/domain"
)

// Identity is what the provider tells us about the person who signed in. It is
// immutable once obtained.
type Identity struct {
	Email       id.Email `json:"email"`
	DisplayName string   `json:"display_name"`
	// ProviderToken is only used to end the session at the provider.
	ProviderToken string `json:"provider_token,omitempty"`
}

// Provider runs the interactive authorization-code round trip.
type Provider interface {
	// AuthCodeURL returns the URL of the provider's interactive step. state is
	// echoed back on the callback; verifier is the PKCE code verifier.
	AuthCodeURL(state, verifier string) string
	// Exchange trades an authorization code for an identity.
	Exchange(ctx context.Context, code, verifier string) (Identity, error)
	// SignOut terminates the provider-side session of identity.
	SignOut(ctx context.Context, identity Identity) error
}

// ErrCancelled means the user backed out of the provider's interactive step.
var ErrCancelled = errors.New("sign-in cancelled by user")

// ErrUnverifiedEmail means the provider returned an email it has not verified.
// Such an address is never checked against the allow-list.
var ErrUnverifiedEmail = errors.New("provider has not verified the email")

// Error is a provider failure other than a cancellation.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("identity provider error %s: %s", e.Code, e.Description)
	}
	return "identity provider error " + e.Code
}

// cancelCodes are OAuth error codes that mean the user declined or closed the
// interactive step.
var cancelCodes = map[string]struct{}{
	"access_denied":       {},
	"user_cancelled":      {},
	"user_canceled":       {},
	"consent_required":    {},
	"interaction_aborted": {},
}

// CallbackError converts the error parameters of a provider redirect into
// ErrCancelled or *Error. It returns nil when code is empty.
func CallbackError(code, description string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	if _, ok := cancelCodes[strings.ToLower(code)]; ok {
		return ErrCancelled
	}
	return &Error{Code: code, Description: description}
}

// NewVerifier returns a random PKCE code verifier (RFC 7636, 43 chars).
func NewVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
