package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/jw6ventures/planner/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{BaseURL: "http://localhost:8080"}
	cfg.Session.Secret = strings.Repeat("s", 32)
	cfg.Session.TrustedUserHeader = "X-Forwarded-User"
	cfg.Google.CalendarID = "primary"
	return cfg
}

type fakeLinker struct {
	linked   map[string]string
	unlinked []string
	token    *oauth2.Token
	err      error
}

func (f *fakeLinker) Link(ctx context.Context, ownerID, calendarID, email string, tok *oauth2.Token) error {
	if f.err != nil {
		return f.err
	}
	if f.linked == nil {
		f.linked = map[string]string{}
	}
	f.linked[ownerID] = calendarID + "|" + email
	f.token = tok
	return nil
}

func (f *fakeLinker) Unlink(ctx context.Context, ownerID string) error {
	f.unlinked = append(f.unlinked, ownerID)
	return nil
}

func cookieNamed(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	m := NewSessionManager(testConfig())
	rec := httptest.NewRecorder()
	if err := m.Issue(rec, "u1"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	c := cookieNamed(t, rec, sessionCookieName)
	if !c.HttpOnly || c.Secure {
		t.Fatalf("unexpected cookie flags: %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	if owner, ok := m.CurrentOwner(req); !ok || owner != "u1" {
		t.Fatalf("CurrentOwner() = %q, %v", owner, ok)
	}

	m.now = func() time.Time { return time.Now().Add(sessionTTL + time.Hour) }
	if _, ok := m.CurrentOwner(req); ok {
		t.Fatal("expired session must be rejected")
	}
}

func TestSessionRejectsForeignCookie(t *testing.T) {
	m := NewSessionManager(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged"})
	if _, ok := m.CurrentOwner(req); ok {
		t.Fatal("forged cookie accepted")
	}
}

func TestStateIsSingleUse(t *testing.T) {
	m := NewSessionManager(testConfig())
	rec := httptest.NewRecorder()
	if err := m.IssueState(rec, "st", "nonce"); err != nil {
		t.Fatalf("IssueState() error = %v", err)
	}
	c := cookieNamed(t, rec, stateCookieName)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	if _, ok := m.ConsumeState(httptest.NewRecorder(), req, "other"); ok {
		t.Fatal("mismatched state accepted")
	}
	clearRec := httptest.NewRecorder()
	nonce, ok := m.ConsumeState(clearRec, req, "st")
	if !ok || nonce != "nonce" {
		t.Fatalf("ConsumeState() = %q, %v", nonce, ok)
	}
	if cleared := cookieNamed(t, clearRec, stateCookieName); cleared.Value != "" {
		t.Fatal("state cookie must be cleared after use")
	}
}

func TestRequireSession(t *testing.T) {
	cfg := testConfig()
	sessions := NewSessionManager(cfg)
	svc := NewService(cfg, sessions, nil, nil, &fakeLinker{})

	var gotOwner string
	var gotMethod Method
	h := svc.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = OwnerFromContext(r.Context())
		gotMethod = MethodFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calendar", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set("X-Forwarded-User", "proxy-user")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotOwner != "proxy-user" || gotMethod != MethodHeader {
		t.Fatalf("header auth = %q %q", gotOwner, gotMethod)
	}

	issued := httptest.NewRecorder()
	_ = sessions.Issue(issued, "cookie-user")
	req = httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.AddCookie(cookieNamed(t, issued, sessionCookieName))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotOwner != "cookie-user" || gotMethod != MethodSession {
		t.Fatalf("session auth = %q %q", gotOwner, gotMethod)
	}
}

func TestTrustedHeaderIgnoredWhenUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TrustedUserHeader = ""
	svc := NewService(cfg, NewSessionManager(cfg), nil, nil, &fakeLinker{})
	h := svc.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set("X-Forwarded-User", "spoofed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      "raw-id-token",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func linkFlow(t *testing.T, svc *Service, verifiedNonce func(string) string, extra ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	begin := httptest.NewRecorder()
	svc.BeginLink(begin, httptest.NewRequest(http.MethodGet, "/auth/google/link", nil))
	if begin.Code != http.StatusFound {
		t.Fatalf("BeginLink status = %d", begin.Code)
	}
	loc, err := url.Parse(begin.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	q := loc.Query()
	if q.Get("access_type") != "offline" || q.Get("nonce") == "" {
		t.Fatalf("unexpected consent url: %s", loc)
	}

	nonce := q.Get("nonce")
	svc.verify = func(ctx context.Context, raw string) (*Identity, error) {
		if raw != "raw-id-token" {
			return nil, errors.New("bad token")
		}
		return &Identity{Subject: "1234", Email: "me@example.com", Nonce: verifiedNonce(nonce)}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state="+url.QueryEscape(q.Get("state")), nil)
	req.AddCookie(cookieNamed(t, begin, stateCookieName))
	for _, c := range extra {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	svc.Identify(http.HandlerFunc(svc.HandleCallback)).ServeHTTP(rec, req)
	return rec
}

func newLinkService(t *testing.T, linker *fakeLinker) *Service {
	srv := newTokenServer(t)
	cfg := testConfig()
	oauth := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		RedirectURL:  "http://localhost:8080/auth/google/callback",
	}
	verify := func(context.Context, string) (*Identity, error) { return nil, errors.New("unused") }
	return NewService(cfg, NewSessionManager(cfg), oauth, verify, linker)
}

func TestLinkFlowSignsInNewOwner(t *testing.T) {
	linker := &fakeLinker{}
	svc := newLinkService(t, linker)

	rec := linkFlow(t, svc, func(n string) string { return n })
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d: %s", rec.Code, rec.Body.String())
	}
	if linker.linked["google:1234"] != "primary|me@example.com" {
		t.Fatalf("unexpected link: %v", linker.linked)
	}
	if linker.token == nil || linker.token.RefreshToken != "rt" {
		t.Fatalf("token not passed through: %+v", linker.token)
	}
	c := cookieNamed(t, rec, sessionCookieName)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	if owner, ok := svc.sessions.CurrentOwner(req); !ok || owner != "google:1234" {
		t.Fatalf("session owner = %q", owner)
	}
}

func TestLinkFlowKeepsExistingOwner(t *testing.T) {
	linker := &fakeLinker{}
	svc := newLinkService(t, linker)
	issued := httptest.NewRecorder()
	_ = svc.sessions.Issue(issued, "existing")

	rec := linkFlow(t, svc, func(n string) string { return n }, cookieNamed(t, issued, sessionCookieName))
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d", rec.Code)
	}
	if _, ok := linker.linked["existing"]; !ok || len(linker.linked) != 1 {
		t.Fatalf("grant must attach to the signed-in owner: %v", linker.linked)
	}
}

func TestLinkFlowRejectsNonceMismatch(t *testing.T) {
	linker := &fakeLinker{}
	svc := newLinkService(t, linker)

	rec := linkFlow(t, svc, func(string) string { return "replayed" })
	if rec.Code != http.StatusUnauthorized || len(linker.linked) != 0 {
		t.Fatalf("status = %d linked = %v", rec.Code, linker.linked)
	}
}

func TestCallbackRejectsMissingState(t *testing.T) {
	svc := newLinkService(t, &fakeLinker{})
	rec := httptest.NewRecorder()
	svc.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLinkNotConfigured(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg, NewSessionManager(cfg), nil, nil, &fakeLinker{})
	rec := httptest.NewRecorder()
	svc.BeginLink(rec, httptest.NewRequest(http.MethodGet, "/auth/google/link", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnlink(t *testing.T) {
	linker := &fakeLinker{}
	cfg := testConfig()
	svc := NewService(cfg, NewSessionManager(cfg), nil, nil, linker)
	req := httptest.NewRequest(http.MethodPost, "/auth/google/unlink", nil)
	req.Header.Set("X-Forwarded-User", "u1")
	rec := httptest.NewRecorder()
	svc.RequireSession(http.HandlerFunc(svc.Unlink)).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || len(linker.unlinked) != 1 || linker.unlinked[0] != "u1" {
		t.Fatalf("status = %d unlinked = %v", rec.Code, linker.unlinked)
	}
}
