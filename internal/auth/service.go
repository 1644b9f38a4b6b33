package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/jw6ventures/planner/internal/config"
	httperrors "github.com/jw6ventures/planner/internal/http/errors"
	"github.com/jw6ventures/planner/internal/logging"
)

// Linker persists and forgets remote calendar grants.
type Linker interface {
	Link(ctx context.Context, ownerID, calendarID, accountEmail string, tok *oauth2.Token) error
	Unlink(ctx context.Context, ownerID string) error
}

// Identity is the verified subset of an ID token.
type Identity struct {
	Subject string
	Email   string
	Nonce   string
}

// IDTokenVerifier checks a raw ID token returned by the token endpoint.
type IDTokenVerifier func(ctx context.Context, rawIDToken string) (*Identity, error)

// NewGoogleOAuthConfig requests calendar event access plus the OIDC identity scopes.
func NewGoogleOAuthConfig(cfg *config.Config) *oauth2.Config {
	if !cfg.RemoteEnabled() {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + cfg.Google.RedirectPath,
		Scopes:       []string{oidc.ScopeOpenID, "email", calendar.CalendarEventsScope},
	}
}

// NewOIDCVerifier discovers the issuer and verifies ID tokens issued to our client.
func NewOIDCVerifier(ctx context.Context, cfg *config.Config) (IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Google.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer %s: %w", cfg.Google.IssuerURL, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Google.ClientID})
	return func(ctx context.Context, raw string) (*Identity, error) {
		tok, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := tok.Claims(&claims); err != nil {
			return nil, fmt.Errorf("decode id token claims: %w", err)
		}
		return &Identity{Subject: tok.Subject, Email: claims.Email, Nonce: tok.Nonce}, nil
	}, nil
}

// Service resolves the request owner and runs the remote calendar link flow.
type Service struct {
	cfg        *config.Config
	sessions   *SessionManager
	oauth      *oauth2.Config
	verify     IDTokenVerifier
	linker     Linker
	calendarID string
}

// NewService builds the auth service. oauth and verify may be nil when linking is not configured.
func NewService(cfg *config.Config, sessions *SessionManager, oauth *oauth2.Config, verify IDTokenVerifier, linker Linker) *Service {
	return &Service{
		cfg:        cfg,
		sessions:   sessions,
		oauth:      oauth,
		verify:     verify,
		linker:     linker,
		calendarID: cfg.Google.CalendarID,
	}
}

// Identify attaches the owner to the context when the request carries one.
// A configured trusted header wins over the session cookie.
func (s *Service) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner, method, ok := s.resolve(r); ok {
			ctx := WithOwner(r.Context(), owner, method)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("owner", owner))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests without an owner identity.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return s.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OwnerFromContext(r.Context()); !ok {
			httperrors.Write(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (s *Service) resolve(r *http.Request) (string, Method, bool) {
	if header := s.cfg.Session.TrustedUserHeader; header != "" {
		if owner := strings.TrimSpace(r.Header.Get(header)); owner != "" {
			return owner, MethodHeader, true
		}
	}
	if owner, ok := s.sessions.CurrentOwner(r); ok {
		return owner, MethodSession, true
	}
	return "", "", false
}

// BeginLink redirects to the provider consent screen.
func (s *Service) BeginLink(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || s.verify == nil {
		httperrors.Write(w, http.StatusNotFound, "remote calendar linking is not configured")
		return
	}
	state, err := randomToken()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate oauth state")
		return
	}
	nonce, err := randomToken()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate oidc nonce")
		return
	}
	if err := s.sessions.IssueState(w, state, nonce); err != nil {
		httperrors.InternalError(w, r, err, "issue oauth state cookie")
		return
	}
	url := s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oidc.Nonce(nonce))
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleCallback completes the link. Without an existing identity the Google
// account itself becomes the owner and a session is issued.
func (s *Service) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || s.verify == nil {
		httperrors.Write(w, http.StatusNotFound, "remote calendar linking is not configured")
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		httperrors.BadRequestError(w, r, errors.New(denied), "authorization was not granted")
		return
	}
	nonce, ok := s.sessions.ConsumeState(w, r, q.Get("state"))
	if !ok {
		httperrors.BadRequestError(w, r, errors.New("state mismatch"), "invalid oauth state")
		return
	}
	code := q.Get("code")
	if code == "" {
		httperrors.BadRequestError(w, r, errors.New("missing code"), "missing authorization code")
		return
	}

	ctx := r.Context()
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		httperrors.LogError(r, "exchange authorization code", err)
		httperrors.Write(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		httperrors.LogError(r, "token response", errors.New("no id_token"))
		httperrors.Write(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	id, err := s.verify(ctx, raw)
	if err != nil {
		httperrors.LogError(r, "verify id token", err)
		httperrors.Write(w, http.StatusUnauthorized, "invalid id token")
		return
	}
	if id.Nonce != nonce {
		httperrors.LogError(r, "verify id token", errors.New("nonce mismatch"))
		httperrors.Write(w, http.StatusUnauthorized, "invalid id token")
		return
	}

	owner, ok := OwnerFromContext(ctx)
	if !ok {
		owner = "google:" + id.Subject
		if err := s.sessions.Issue(w, owner); err != nil {
			httperrors.InternalError(w, r, err, "issue session")
			return
		}
	}
	if err := s.linker.Link(ctx, owner, s.calendarID, id.Email, tok); err != nil {
		httperrors.InternalError(w, r, err, "store remote credential")
		return
	}
	httperrors.LogInfo(r, "remote calendar linked", "owner", owner, "account", id.Email)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Unlink forgets the caller's remote credential.
func (s *Service) Unlink(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	if err := s.linker.Unlink(r.Context(), owner); err != nil {
		httperrors.InternalError(w, r, err, "remove remote credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
