package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Claims are the ID token claims the console uses.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Authenticator runs the authorization code flow for administrator login.
type Authenticator interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*Claims, error)
}

// Provider is an Authenticator backed by an OIDC issuer.
type Provider struct {
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// NewProvider discovers the issuer and prepares the OAuth2 client.
func NewProvider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, scopes, allowedDomains []string) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC issuer: %w", err)
	}

	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:       provider.Verifier(&oidc.Config{ClientID: clientID}),
		allowedDomains: allowedDomains,
	}, nil
}

// AuthCodeURL returns the issuer login URL for this attempt.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades the code for tokens, verifies the ID token and checks
// that the email is allowed to administer the gate.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (*Claims, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying ID token: %w", err)
	}
	if !ConstantTimeCompare(idToken.Nonce, nonce) {
		return nil, fmt.Errorf("nonce mismatch")
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing claims: %w", err)
	}
	if err := AuthorizeEmail(claims.Email, p.allowedDomains); err != nil {
		return nil, err
	}
	return &claims, nil
}

// AuthorizeEmail requires an email and, when domains are configured, that
// its domain is one of them.
func AuthorizeEmail(email string, allowedDomains []string) error {
	if email == "" {
		return fmt.Errorf("email claim is required")
	}
	if len(allowedDomains) == 0 {
		return nil
	}

	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return fmt.Errorf("invalid email format")
	}
	for _, d := range allowedDomains {
		if strings.EqualFold(d, domain) {
			return nil
		}
	}
	return fmt.Errorf("email domain %s is not allowed", strings.ToLower(domain))
}

// GenerateSecureString returns length random bytes, base64url encoded.
func GenerateSecureString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
