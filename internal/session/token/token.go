// Package token signs and verifies the browser session cookie. The cookie holds
// only the session ID; all session state lives server-side.
package token

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// CookieName is the name of the HTTP-only session cookie.
const CookieName = "portal_session"

// Claims are the JWT claims carried by the session cookie.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues and validates session cookies.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	secure     bool
	now        func() time.Time
}

type Option func(*Service)

// WithSecureCookies marks issued cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Service) { s.secure = secure }
}

// WithClock overrides the clock used for iat/exp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(signingKey []byte, issuer, audience string, opts ...Option) *Service {
	s := &Service{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for sessionID valid for ttl.
func (s *Service) Issue(sessionID id.SessionID, ttl time.Duration) (string, error) {
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return t.SignedString(s.signingKey)
}

// Validate verifies signature, issuer, audience and expiry and returns the session ID.
func (s *Service) Validate(tokenString string) (id.SessionID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "session cookie has expired")
		}
		return id.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session cookie")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session cookie")
	}
	sessionID, err := id.ParseSessionID(claims.SessionID)
	if err != nil {
		return id.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session cookie")
	}
	return sessionID, nil
}

// SetCookie issues a token for sessionID and writes it as an HTTP-only cookie.
func (s *Service) SetCookie(w http.ResponseWriter, sessionID id.SessionID, ttl time.Duration) error {
	signed, err := s.Issue(sessionID, ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  s.now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest returns the session ID carried by the request cookie.
func (s *Service) FromRequest(r *http.Request) (id.SessionID, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return id.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "session cookie missing")
	}
	return s.Validate(c.Value)
}

// ClearCookie expires the session cookie.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
