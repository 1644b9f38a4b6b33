package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/jw6ventures/planner/internal/secrets"
	"github.com/jw6ventures/planner/internal/store"
)

func newTestConnector(t *testing.T, handler http.Handler) (*Connector, *store.Store, *secrets.Box) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	box, err := secrets.NewBox("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewBox() error = %v", err)
	}
	st := store.NewMemory()
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}
	conn := NewConnector(st.Credentials, box, cfg, RetryPolicy{}, option.WithEndpoint(srv.URL+"/"))
	return conn, st, box
}

func TestConnectorUnlinkedOwner(t *testing.T) {
	conn, _, _ := newTestConnector(t, http.NotFoundHandler())
	binding, err := conn.ForOwner(context.Background(), "u1")
	if err != nil || binding != nil {
		t.Fatalf("ForOwner() = %v, %v; want nil, nil", binding, err)
	}

	var disabled *Connector
	if disabled.Enabled() {
		t.Fatal("nil connector must be disabled")
	}
	binding, err = NewConnector(nil, nil, nil, RetryPolicy{}).ForOwner(context.Background(), "u1")
	if err != nil || binding != nil {
		t.Fatalf("disabled ForOwner() = %v, %v", binding, err)
	}
}

func TestConnectorUsesStoredToken(t *testing.T) {
	var mu sync.Mutex
	var seen string
	conn, _, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[]}`)
	}))
	ctx := context.Background()

	tok := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := conn.Link(ctx, "u1", "primary", "u1@example.com", tok); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	binding, err := conn.ForOwner(ctx, "u1")
	if err != nil || binding == nil {
		t.Fatalf("ForOwner() = %v, %v", binding, err)
	}
	if binding.CalendarID != "primary" || binding.AccountEmail != "u1@example.com" {
		t.Fatalf("unexpected binding: %+v", binding)
	}
	if _, err := binding.Client.List(ctx, time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != "Bearer access-1" {
		t.Fatalf("Authorization = %q", seen)
	}
}

func TestConnectorPersistsRefreshedToken(t *testing.T) {
	conn, st, box := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/token" {
			io.WriteString(w, `{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
			return
		}
		io.WriteString(w, `{"items":[]}`)
	}))
	ctx := context.Background()

	expired := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(-time.Hour)}
	if err := conn.Link(ctx, "u1", "primary", "", expired); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	binding, err := conn.ForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ForOwner() error = %v", err)
	}
	if _, err := binding.Client.List(ctx, time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	cred, _ := st.Credentials.Get(ctx, "u1")
	tok, err := box.OpenToken(cred.Token)
	if err != nil {
		t.Fatalf("OpenToken() error = %v", err)
	}
	if tok.AccessToken != "access-2" || tok.RefreshToken != "refresh" {
		t.Fatalf("refreshed token not persisted: %+v", tok)
	}
}

func TestConnectorRefreshFailureIsAuthError(t *testing.T) {
	conn, _, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	ctx := context.Background()

	expired := &oauth2.Token{AccessToken: "access-1", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}
	if err := conn.Link(ctx, "u1", "primary", "", expired); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	binding, err := conn.ForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ForOwner() error = %v", err)
	}
	_, err = binding.Client.List(ctx, time.Now(), time.Now().Add(time.Hour))
	if !IsAuth(err) {
		t.Fatalf("List() error = %v, want auth error", err)
	}
}
