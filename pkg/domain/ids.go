// Package domain holds the typed identifiers and value objects shared across
// the portal. Parsing happens at trust boundaries (cookies, route params,
// upstream payloads) so the rest of the code can rely on valid values.
package domain

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "portal/pkg/domain-errors"
)

// SessionID identifies one browser context's session record.
type SessionID uuid.UUID

// AttemptID identifies a single sign-in attempt. It doubles as the OIDC state.
type AttemptID uuid.UUID

// NewSessionID returns a random session id.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewAttemptID returns a random attempt id.
func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) String() string { return uuid.UUID(id).String() }
func (id AttemptID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText encodes the id in canonical UUID form.
func (id SessionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText accepts the canonical UUID form; an empty value decodes to nil.
func (id *SessionID) UnmarshalText(b []byte) error { return unmarshalUUID((*uuid.UUID)(id), b) }

func (id AttemptID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AttemptID) UnmarshalText(b []byte) error { return unmarshalUUID((*uuid.UUID)(id), b) }

func unmarshalUUID(dst *uuid.UUID, b []byte) error {
	if len(b) == 0 {
		*dst = uuid.Nil
		return nil
	}
	return dst.UnmarshalText(b)
}

// ParseSessionID parses and validates a session id.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session id")
	return SessionID(u), err
}

// ParseAttemptID parses and validates a sign-in attempt id.
func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s, "attempt id")
	return AttemptID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" required")
	}
	if !utf8.ValidString(s) || len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	return u, nil
}

// Email is a trimmed, syntactically valid address. Case is preserved because
// the allow-list owner decides how to compare.
type Email string

const maxEmailLength = 254

// ParseEmail validates an address. A blank address is a validation error so
// callers can fail fast before any network call.
func ParseEmail(s string) (Email, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email required")
	}
	if len(s) > maxEmailLength || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email")
	}
	return Email(s), nil
}

func (e Email) String() string { return string(e) }

// LocalPart returns the part before '@'.
func (e Email) LocalPart() string {
	local, _, _ := strings.Cut(string(e), "@")
	return local
}

// GroupID is an investment group identifier as used by the spreadsheet
// ("G1", "GRP-2024-03"). Only a conservative character set is accepted since
// the value ends up in upstream query strings and route paths.
type GroupID string

const maxGroupIDLength = 64

// ParseGroupID validates a group id taken from a route parameter.
func ParseGroupID(s string) (GroupID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "group id required")
	}
	if len(s) > maxGroupIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid group id")
	}
	for _, r := range s {
		if r > unicode.MaxASCII {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid group id")
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid group id")
		}
	}
	return GroupID(s), nil
}

func (g GroupID) String() string { return string(g) }
