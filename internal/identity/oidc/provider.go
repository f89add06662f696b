// Package oidc adapts an OpenID Connect provider to identity.Provider using
// the zitadel relying party.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"portal/internal/identity"
	id "portal/pkg/domain"
)

// Config describes the relying party registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	HTTPTimeout  time.Duration
}

// Provider is an identity.Provider backed by an OIDC relying party.
type Provider struct {
	rp rp.RelyingParty
}

// New performs discovery against the issuer and builds the relying party.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail}
	}

	options := []rp.Option{
		rp.WithHTTPClient(&http.Client{Timeout: timeout}),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
	}
	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}
	return &Provider{rp: relyingParty}, nil
}

// AuthCodeURL returns the authorization endpoint URL with state and an S256
// PKCE challenge derived from verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return rp.AuthURL(state, p.rp, rp.WithCodeChallenge(oidc.NewSHACodeChallenge(verifier)))
}

// Exchange trades the authorization code for verified ID token claims.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (identity.Identity, error) {
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, p.rp, rp.WithCodeVerifier(verifier))
	if err != nil {
		return identity.Identity{}, fmt.Errorf("code exchange: %w", err)
	}
	if tokens == nil || tokens.IDTokenClaims == nil {
		return identity.Identity{}, errors.New("code exchange: no ID token claims")
	}
	accessToken := ""
	if tokens.Token != nil {
		accessToken = tokens.AccessToken
	}
	return identityFromClaims(tokens.IDTokenClaims, accessToken)
}

// SignOut revokes the provider access token, which ends the provider session
// for providers that tie sessions to tokens.
func (p *Provider) SignOut(ctx context.Context, ident identity.Identity) error {
	if ident.ProviderToken == "" {
		return nil
	}
	if err := rp.RevokeToken(ctx, p.rp, ident.ProviderToken, "access_token"); err != nil {
		return fmt.Errorf("revoke provider token: %w", err)
	}
	return nil
}

func identityFromClaims(claims *oidc.IDTokenClaims, accessToken string) (identity.Identity, error) {
	email, err := id.ParseEmail(claims.Email)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("provider identity has no usable email: %w", err)
	}
	if !bool(claims.EmailVerified) {
		return identity.Identity{}, identity.ErrUnverifiedEmail
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = strings.TrimSpace(strings.Join([]string{claims.GivenName, claims.FamilyName}, " "))
	}
	return identity.Identity{
		Email:         email,
		DisplayName:   name,
		ProviderToken: accessToken,
	}, nil
}
